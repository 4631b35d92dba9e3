package app

import (
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member *core.Session) BackpressureAction
}

// SimplePolicy kicks slow listeners. A slow broadcaster only loses frames,
// dropping it would end the broadcast for everyone.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.RoomID, member *core.Session) BackpressureAction {
	if member.Role() == domain.RoleBroadcaster {
		return DropFrame
	}
	return KickMember
}
