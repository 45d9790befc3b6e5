package core

import (
	"github.com/dkeye/parlor/internal/domain"
	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// SessionHandle is what the registry stores and fans out to.
// The registry closes a handle in three cases only: eviction by a duplicate
// join, a KickMember backpressure decision, and CloseAll at shutdown.
type SessionHandle interface {
	ID() SessionID
	Meta() *domain.Member
	// TrySend must not block.
	TrySend(domain.Event) error
	Close()
}
