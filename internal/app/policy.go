package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/parlor/internal/core"
	"github.com/dkeye/parlor/internal/domain"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose handle refused a frame.
// Membership is never changed during a broadcast: a kicked handle is only
// closed, and its session leaves the room on its own.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.SessionHandle, err error) BackpressureAction
}

// DropPolicy skips the frame and keeps the member.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, core.SessionHandle, error) BackpressureAction {
	return DropFrame
}

// KickSlowPolicy closes members whose queue is full.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(_ domain.RoomID, _ core.SessionHandle, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return KickMember
	}
	return DropFrame
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickSlowPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
