package domain

import (
	"regexp"
	"time"

	"github.com/dkeye/Beacon/internal/languages"
)

type (
	RoomID string
	Slug   string
)

const (
	MinSlugLen = 3
	MaxSlugLen = 50
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateSlug enforces lowercase alnum/hyphen, 3..50 chars.
func ValidateSlug(s Slug) error {
	if len(s) < MinSlugLen || len(s) > MaxSlugLen || !slugPattern.MatchString(string(s)) {
		return ErrInvalidSlug
	}
	return nil
}

// Room is the durable part of a translation session. Membership and the
// live transcription state are owned by the in-memory registry.
type Room struct {
	ID             RoomID         `json:"id"`
	Slug           Slug           `json:"slug"`
	Name           string         `json:"name"`
	SourceLanguage languages.Code `json:"sourceLanguage"`
	TargetLanguage languages.Code `json:"targetLanguage"`
	IsPublic       bool           `json:"isPublic"`
	IsPersistent   bool           `json:"isPersistent"`
	OwnerID        *UserID        `json:"ownerId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`

	// Display only; generated by an external collaborator.
	QRID       string `json:"qrId,omitempty"`
	QRImageURL string `json:"qrImageUrl,omitempty"`
}

func (r *Room) Direction() string {
	return languages.Direction(r.SourceLanguage, r.TargetLanguage)
}

func (r *Room) OwnedBy(uid UserID) bool {
	return r.OwnerID != nil && *r.OwnerID == uid
}

// RoomUpdate carries optional changes to a persistent room.
type RoomUpdate struct {
	Name           *string
	SourceLanguage *languages.Code
	TargetLanguage *languages.Code
	IsPublic       *bool
}

// RoomStatus is a read-only snapshot with the live overlay for API listings.
type RoomStatus struct {
	ID             RoomID         `json:"id"`
	Slug           Slug           `json:"slug"`
	Name           string         `json:"name"`
	SourceLanguage languages.Code `json:"sourceLanguage"`
	TargetLanguage languages.Code `json:"targetLanguage"`
	Direction      string         `json:"direction"`
	IsPublic       bool           `json:"isPublic"`
	IsPersistent   bool           `json:"isPersistent"`
	IsActive       bool           `json:"isActive"`
	ListenerCount  int            `json:"listenerCount"`
	QRID           string         `json:"qrId,omitempty"`
	QRImageURL     string         `json:"qrImageUrl,omitempty"`
}
