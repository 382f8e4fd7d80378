// Package matrix delivers notifications to Matrix rooms.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type Config struct {
	Homeserver string
	UserID     string
	DeviceID   string
	// Password logs in a fresh session that is logged out on Close.
	Password string
	// AccessToken reuses an existing session; it is never logged out.
	AccessToken string
}

type Messenger struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.Homeserver) == "" {
		return nil, errors.New("matrix homeserver is empty")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("matrix user id is empty")
	}
	if cfg.Password == "" && cfg.AccessToken == "" {
		return nil, errors.New("matrix needs a password or an access token")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{cfg: cfg, log: log.With(logx.String("comp", "transport.matrix"))}, nil
}

func (m *Messenger) Open(ctx context.Context) (transport.Session, error) {
	userID := id.UserID(strings.TrimSpace(m.cfg.UserID))
	cli, err := mautrix.NewClient(strings.TrimSpace(m.cfg.Homeserver), userID, m.cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}

	loggedIn := false
	if m.cfg.AccessToken == "" {
		localpart, _, err := userID.Parse()
		if err != nil {
			localpart = string(userID)
		}
		_, err = cli.Login(ctx, &mautrix.ReqLogin{
			Type:             mautrix.AuthTypePassword,
			Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: localpart},
			Password:         m.cfg.Password,
			DeviceID:         id.DeviceID(m.cfg.DeviceID),
			StoreCredentials: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: matrix login as %s: %v", transport.ErrAuth, userID, err)
		}
		loggedIn = true
	} else if m.cfg.DeviceID != "" {
		cli.DeviceID = id.DeviceID(m.cfg.DeviceID)
	}

	who, err := cli.Whoami(ctx)
	if err != nil {
		s := &session{cli: cli, log: m.log, logout: loggedIn}
		_ = s.Close(ctx)
		return nil, fmt.Errorf("%w: matrix whoami: %v", transport.ErrAuth, err)
	}
	m.log.Info("logged in", logx.String("user", string(who.UserID)), logx.String("device", string(who.DeviceID)))

	return &session{cli: cli, log: m.log, logout: loggedIn, rooms: map[string]id.RoomID{}}, nil
}

type session struct {
	cli    *mautrix.Client
	log    logx.Logger
	logout bool

	mu    sync.Mutex
	rooms map[string]id.RoomID
}

// resolve maps "#alias:server" to a room id once per session; "!id:server" is used as is.
func (s *session) resolve(ctx context.Context, channel string) (id.RoomID, error) {
	channel = strings.TrimSpace(channel)
	switch {
	case strings.HasPrefix(channel, "!"):
		return id.RoomID(channel), nil
	case strings.HasPrefix(channel, "#"):
	default:
		return "", fmt.Errorf("%w: matrix room %q", transport.ErrInvalidChannel, channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rid, ok := s.rooms[channel]; ok {
		return rid, nil
	}
	resp, err := s.cli.ResolveAlias(ctx, id.RoomAlias(channel))
	if err != nil {
		return "", fmt.Errorf("resolve alias %s: %w", channel, err)
	}
	s.rooms[channel] = resp.RoomID
	s.log.Debug("resolved room alias", logx.String("alias", channel), logx.String("room", string(resp.RoomID)))
	return resp.RoomID, nil
}

func (s *session) Send(ctx context.Context, channel string, msg transport.Message) error {
	room, err := s.resolve(ctx, channel)
	if err != nil {
		return err
	}
	_, err = s.cli.SendMessageEvent(ctx, room, event.EventMessage, Content(msg))
	return err
}

// Content builds the m.room.message body for msg.
func Content(msg transport.Message) *event.MessageEventContent {
	c := &event.MessageEventContent{MsgType: event.MsgText, Body: msg.Body}
	if msg.Kind == transport.KindNotice {
		c.MsgType = event.MsgNotice
	}
	if msg.FormattedBody != "" {
		c.Format = event.FormatHTML
		c.FormattedBody = msg.FormattedBody
	}
	return c
}

func (s *session) Close(ctx context.Context) error {
	if !s.logout {
		return nil
	}
	s.logout = false
	if _, err := s.cli.Logout(ctx); err != nil {
		s.log.Warn("logout failed", logx.Err(err))
		return fmt.Errorf("matrix logout: %w", err)
	}
	s.log.Debug("logged out")
	return nil
}
