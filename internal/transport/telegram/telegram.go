// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint; empty means api.telegram.org.
	APIURL string
	// HTTPTimeout bounds every Bot API request.
	HTTPTimeout time.Duration
}

type Messenger struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{cfg: cfg, log: log.With(logx.String("comp", "transport.telegram"))}, nil
}

// Open checks the token with getMe. telebot does that when it is not offline.
func (m *Messenger) Open(ctx context.Context) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := m.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	b, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(m.cfg.Token),
		URL:    strings.TrimSpace(m.cfg.APIURL),
		Client: client,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: telegram getMe: %v", transport.ErrAuth, err)
	}
	m.log.Info("logged in", logx.String("bot", b.Me.Username))
	return &session{bot: b, client: client, log: m.log}, nil
}

type session struct {
	bot    *tele.Bot
	client *http.Client
	log    logx.Logger
}

// Target is a parsed channel id: "<chat_id>" or "<chat_id>/<thread_id>" for forum topics.
type Target struct {
	ChatID   int64
	ThreadID int
}

func ParseTarget(channel string) (Target, error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(channel), "/")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil || id == 0 {
		return Target{}, fmt.Errorf("%w: telegram chat %q", transport.ErrInvalidChannel, channel)
	}
	t := Target{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(thread)
		if err != nil || tid <= 0 {
			return Target{}, fmt.Errorf("%w: telegram thread %q", transport.ErrInvalidChannel, channel)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// Send posts the plain body. Goldmark HTML uses tags the Bot API rejects, so
// the formatted body is not used. Notices are sent silently.
func (s *session) Send(ctx context.Context, channel string, msg transport.Message) error {
	to, err := ParseTarget(channel)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(msg.Body, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{
			ThreadID:              to.ThreadID,
			DisableNotification:   msg.Kind == transport.KindNotice,
			DisableWebPagePreview: true,
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) Close(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
