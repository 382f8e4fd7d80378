// Package transport defines the chat delivery boundary. Backends live in
// sub-packages (matrix, telegram, nats) and are selected by configuration.
package transport

import (
	"context"
	"errors"
)

// Kind is the delivery class of a message. Backends map it to their closest
// native concept (Matrix msgtype, Telegram silent flag, ...).
type Kind string

const (
	KindText   Kind = "text"
	KindNotice Kind = "notice"
)

// Message is one outbound chat message. FormattedBody is HTML; backends that
// cannot carry it send Body.
type Message struct {
	Kind          Kind
	Body          string
	FormattedBody string
}

// Messenger opens an authenticated session with a chat backend.
type Messenger interface {
	Open(ctx context.Context) (Session, error)
}

// Session delivers messages to channels. Close must be called on every exit
// path once Open succeeded.
type Session interface {
	Send(ctx context.Context, channel string, msg Message) error
	Close(ctx context.Context) error
}

// ErrAuth wraps failures to log in or establish a session.
var ErrAuth = errors.New("chat authentication failed")

// ErrInvalidChannel is returned when a channel id does not parse for the backend.
var ErrInvalidChannel = errors.New("invalid channel id")

// KindFromStyle maps a routing style to a message kind. Unknown styles are sent as text.
func KindFromStyle(style string) Kind {
	if style == string(KindNotice) {
		return KindNotice
	}
	return KindText
}
