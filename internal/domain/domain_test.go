package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidateSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		slug Slug
		ok   bool
	}{
		{"abc", true},
		{"sunday-service-1", true},
		{"ab", false},
		{Slug(strings.Repeat("a", 50)), true},
		{Slug(strings.Repeat("a", 51)), false},
		{"Upper", false},
		{"has space", false},
		{"under_score", false},
	}
	for _, tc := range tests {
		err := ValidateSlug(tc.slug)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateSlug(%q) = %v, want ok=%v", tc.slug, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("expected ErrInvalidSlug, got %v", err)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("join: %w", ErrBroadcasterExists)
	if !errors.Is(wrapped, ErrBroadcasterExists) {
		t.Fatal("wrapped sentinel should match")
	}
	if errors.Is(wrapped, ErrRoomNotFound) {
		t.Fatal("different codes must not match")
	}
	if got := CodeOf(wrapped); got != "BROADCASTER_EXISTS" {
		t.Fatalf("CodeOf = %q", got)
	}
	if got := KindOf(wrapped); got != KindConflict {
		t.Fatalf("KindOf = %v", got)
	}

	up := Upstream("deepl", errors.New("503"))
	if !IsUpstream(up) || CodeOf(up) != "UPSTREAM_ERROR" || KindOf(up) != KindUpstream {
		t.Fatalf("upstream classification failed: %v", up)
	}
	if CodeOf(errors.New("boom")) != "INTERNAL" {
		t.Fatal("unknown errors map to INTERNAL")
	}
}

func TestQuota(t *testing.T) {
	t.Parallel()

	q := Quota{Plan: Plan{MinutesPerMonth: 10}, MinutesUsed: 7}
	if q.Remaining() != 3 || q.Exhausted() {
		t.Fatalf("unexpected quota state: remaining=%d exhausted=%v", q.Remaining(), q.Exhausted())
	}
	q.MinutesUsed = 12
	if q.Remaining() != 0 || !q.Exhausted() {
		t.Fatalf("expected exhausted quota")
	}
}
