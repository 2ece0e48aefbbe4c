// Package ledger tracks per-user activity counters bucketed by UTC calendar
// day. Counters are monotonically non-decreasing within a day and are the
// input for quota enforcement and trust scoring.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Kind identifies a counted action type.
type Kind string

// Counted action kinds.
const (
	KindMessages Kind = "messages"
	KindFiles    Kind = "files"
	KindFlags    Kind = "flags"
)

// Valid reports whether k is a known counter kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMessages, KindFiles, KindFlags:
		return true
	}
	return false
}

// Ledger errors.
var (
	// ErrUnavailable indicates the backing store could not commit the
	// operation. Callers must propagate it so the event source redelivers.
	ErrUnavailable = errors.New("usage ledger unavailable")

	// ErrInvalidKind indicates an unknown counter kind.
	ErrInvalidKind = errors.New("invalid usage kind")

	// ErrInvalidDelta indicates a non-positive increment delta.
	ErrInvalidDelta = errors.New("increment delta must be positive")
)

// Record holds the usage counters for one user on one UTC day.
type Record struct {
	UID       string    `json:"uid"`
	DayKey    string    `json:"day_key"`
	Messages  int       `json:"messages"`
	Files     int       `json:"files"`
	Flags     int       `json:"flags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Count returns the counter value for the given kind.
func (r Record) Count(k Kind) int {
	switch k {
	case KindMessages:
		return r.Messages
	case KindFiles:
		return r.Files
	case KindFlags:
		return r.Flags
	}
	return 0
}

// Store provides atomic access to daily usage counters.
type Store interface {
	// Increment atomically adds delta to the given counter for the current
	// UTC day, creating the day's record if it does not exist. It returns
	// the updated record.
	Increment(ctx context.Context, uid string, kind Kind, delta int) (Record, error)

	// Today returns the current UTC day's record for the user. A zero
	// record (with UID and DayKey populated) is returned if the user has
	// no activity today.
	Today(ctx context.Context, uid string) (Record, error)
}

// DayKey formats t as a UTC calendar date, the bucket key for usage records.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StartOfUTCDay returns midnight UTC of t's calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfUTCDay returns 23:59:59 UTC of t's calendar day.
func EndOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
}
