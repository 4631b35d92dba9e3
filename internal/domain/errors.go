package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindConflict
	KindNotFound
	KindUpstream
	KindQuotaExceeded
)

// Error carries a stable wire code the client can branch on.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches by code so wrapped sentinels and copies compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidSlug     = &Error{KindValidation, "INVALID_SLUG", "room URL must be 3-50 lowercase letters, numbers or hyphens"}
	ErrInvalidLanguage = &Error{KindValidation, "INVALID_LANGUAGE", "invalid source or target language code"}
	ErrInvalidRole     = &Error{KindValidation, "INVALID_ROLE", "role must be broadcaster or listener"}
	ErrInvalidMessage  = &Error{KindValidation, "INVALID_MESSAGE", "failed to parse message"}
	ErrUnknownMessage  = &Error{KindValidation, "UNKNOWN_MESSAGE", "unknown message type"}
	ErrRateLimited     = &Error{KindValidation, "RATE_LIMITED", "too many requests, slow down"}

	ErrSlugConflict      = &Error{KindConflict, "SLUG_CONFLICT", "room with this URL already exists"}
	ErrBroadcasterExists = &Error{KindConflict, "BROADCASTER_EXISTS", "room already has a broadcaster"}
	ErrNotBroadcaster    = &Error{KindConflict, "NOT_BROADCASTER", "only the broadcaster can end the broadcast"}
	ErrNotOwner          = &Error{KindConflict, "NOT_OWNER", "room is owned by another user"}

	ErrRoomNotFound = &Error{KindNotFound, "ROOM_NOT_FOUND", "room does not exist"}
	ErrNoActivePlan = &Error{KindNotFound, "NO_ACTIVE_PLAN", "no active subscription"}

	ErrQuotaExceeded = &Error{KindQuotaExceeded, "MINUTES_EXCEEDED", "monthly minutes exhausted"}
)

// Upstream wraps a failure of an external engine.
func Upstream(service string, err error) error {
	return fmt.Errorf("%s: %w", service, &upstreamError{err: err})
}

type upstreamError struct{ err error }

func (e *upstreamError) Error() string { return e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func IsUpstream(err error) bool {
	var u *upstreamError
	return errors.As(err, &u)
}

// CodeOf maps any error to a wire code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if IsUpstream(err) {
		return "UPSTREAM_ERROR"
	}
	return "INTERNAL"
}

// KindOf returns 0 for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsUpstream(err) {
		return KindUpstream
	}
	return 0
}
