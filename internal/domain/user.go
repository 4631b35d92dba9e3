// Package domain contains entities without logic, just meta-data
package domain

import (
	"time"

	"github.com/dkeye/Beacon/internal/languages"
)

// UserID references an account managed by the external auth collaborator.
type UserID string

type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MaxListeners    int    `json:"maxListeners"`
	MaxLanguages    int    `json:"maxLanguages"`
	MinutesPerMonth int    `json:"minutesPerMonth"`
}

// Quota is the allowance of the current billing period for one user.
type Quota struct {
	UserID         UserID
	SubscriptionID string
	Plan           Plan
	PeriodStart    time.Time
	PeriodEnd      time.Time
	MinutesUsed    int
}

func (q Quota) Remaining() int {
	if r := q.Plan.MinutesPerMonth - q.MinutesUsed; r > 0 {
		return r
	}
	return 0
}

func (q Quota) Exhausted() bool {
	return q.MinutesUsed >= q.Plan.MinutesPerMonth
}

// BroadcastLog is the durable record of one broadcaster's live interval.
type BroadcastLog struct {
	ID              string
	RoomID          RoomID
	UserID          UserID
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationMinutes int
	PeakListeners   int
	SourceLanguage  languages.Code
	TargetLanguage  languages.Code
}
