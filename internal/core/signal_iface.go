package core

import "github.com/dkeye/parlor/internal/domain"

// SignalConnection abstracts the chat transport of one session.
// Owned by the session; the session must Close() it.
type SignalConnection interface {
	// ReadText blocks until the next inbound text line or a transport error.
	ReadText() (string, error)
	WriteEvent(domain.Event) error
	Ping() error
	Close() error
	RemoteAddr() string
}
