package core

import (
	"context"
	"time"

	"github.com/dkeye/Beacon/internal/domain"
)

// RoomStore is the durable side of persistent rooms.
type RoomStore interface {
	ListRooms(ctx context.Context) ([]domain.Room, error)
	CreateRoom(ctx context.Context, room domain.Room) error
	UpdateRoom(ctx context.Context, room domain.Room) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error
}

// UsageStore holds per-period usage counters, plans and broadcast history.
type UsageStore interface {
	// CurrentQuota fails with domain.ErrNoActivePlan when the user has no subscription.
	CurrentQuota(ctx context.Context, uid domain.UserID) (domain.Quota, error)
	IncrementUsage(ctx context.Context, uid domain.UserID, minutes int) (domain.Quota, error)
	StartBroadcast(ctx context.Context, log domain.BroadcastLog) error
	UpdatePeakListeners(ctx context.Context, id string, peak int) error
	EndBroadcast(ctx context.Context, id string, endedAt time.Time, peak int) error
}
