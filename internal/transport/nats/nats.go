// Package nats publishes notifications to NATS subjects, one subject per channel.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"github.com/nats-io/nats.go"
)

type Config struct {
	URL      string
	User     string
	Password string
	Token    string
	// RunID is stamped on every payload so consumers can group one pass.
	RunID string
	// ConnectTimeout bounds the initial dial. Zero uses the nats.go default.
	ConnectTimeout time.Duration
}

// Payload is the JSON document published for each message.
type Payload struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
	RunID         string `json:"run_id,omitempty"`
}

const formatHTML = "org.matrix.custom.html"

func NewPayload(msg transport.Message, runID string) Payload {
	p := Payload{MsgType: "m.text", Body: msg.Body, RunID: runID}
	if msg.Kind == transport.KindNotice {
		p.MsgType = "m.notice"
	}
	if msg.FormattedBody != "" {
		p.Format = formatHTML
		p.FormattedBody = msg.FormattedBody
	}
	return p
}

type Messenger struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{cfg: cfg, log: log.With(logx.String("comp", "transport.nats"))}, nil
}

func (m *Messenger) Open(ctx context.Context) (transport.Session, error) {
	opts := []nats.Option{nats.Name("fdroidbot")}
	switch {
	case m.cfg.Token != "":
		opts = append(opts, nats.Token(m.cfg.Token))
	case m.cfg.User != "":
		opts = append(opts, nats.UserInfo(m.cfg.User, m.cfg.Password))
	}
	timeout := m.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); timeout <= 0 || rem < timeout {
			timeout = rem
		}
	}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}

	conn, err := nats.Connect(m.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to nats: %v", transport.ErrAuth, err)
	}
	m.log.Info("connected", logx.String("url", conn.ConnectedUrlRedacted()))
	return &session{conn: conn, runID: m.cfg.RunID, log: m.log}, nil
}

type session struct {
	conn  *nats.Conn
	runID string
	log   logx.Logger
}

// Send publishes and flushes so a nil error means the server has the message.
func (s *session) Send(ctx context.Context, channel string, msg transport.Message) error {
	subject := strings.TrimSpace(channel)
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("%w: nats subject %q", transport.ErrInvalidChannel, channel)
	}
	data, err := json.Marshal(NewPayload(msg, s.runID))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

func (s *session) Close(ctx context.Context) error {
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
