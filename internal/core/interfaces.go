package core

import (
	"errors"
	"time"

	"github.com/dkeye/parlor/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// PublishResult reports delivery stats of one broadcast.
type PublishResult struct {
	SentTo  int
	Dropped []SessionHandle
}

type RoomInfo struct {
	ID          domain.RoomID `json:"room_id"`
	MemberCount int           `json:"member_count"`
}

// Stats is a registry counter snapshot. The HTTP layer owns its wire shape.
type Stats struct {
	ActiveRooms     int
	OnlineUsers     int
	KnownUsers      int
	TotalBroadcasts int64
	DroppedFrames   int64
	Uptime          time.Duration
}
