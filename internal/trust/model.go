// Package trust derives a bounded, auditable reputation score for platform
// users from peer ratings, daily activity, and abuse flags, and classifies
// users into badge tiers that drive daily quotas.
package trust

import (
	"errors"
	"time"
)

// Badge is a discrete trust classification driving quota size.
// A "Banned" display state is derived by consumers from IsBanned and is
// never stored as a badge.
type Badge string

// Badge tiers, lowest to highest.
const (
	BadgeNew      Badge = "New"
	BadgeTrusted  Badge = "Trusted"
	BadgeVerified Badge = "Verified"
)

// Valid reports whether b is a known badge tier.
func (b Badge) Valid() bool {
	switch b {
	case BadgeNew, BadgeTrusted, BadgeVerified:
		return true
	}
	return false
}

// Validation errors.
var (
	ErrInvalidStars = errors.New("invalid stars: must be between 1 and 5")
	ErrEmptyUID     = errors.New("uid cannot be empty")
)

// Limits is the per-day quota table for a badge tier.
type Limits struct {
	MessagesPerDay int `json:"messagesPerDay"`
	FilesPerDay    int `json:"filesPerDay"`
	FlagsPerDay    int `json:"flagsPerDay"`
}

// UserRecord is the per-user trust state owned by this engine.
// Fields are merge-written; IsBanned is monotonic and never reset here.
type UserRecord struct {
	UID               string     `json:"uid"`
	TrustScore        int        `json:"trustScore"`
	Badge             Badge      `json:"badge"`
	RatingCount       int        `json:"ratingCount"`
	RatingAvg         float64    `json:"ratingAvg"`
	FlagsAgainstToday int        `json:"flagsAgainstToday"`
	Limits            Limits     `json:"limits"`
	LimitedUntil      *time.Time `json:"limitedUntil,omitempty"`
	FlagLimitedUntil  *time.Time `json:"flagLimitedUntil,omitempty"`
	IsBanned          bool       `json:"isBanned"`
	BanReason         string     `json:"banReason,omitempty"`
	BannedAt          *time.Time `json:"bannedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// LimitedAt reports whether the user's message/file writes are restricted at t.
func (u *UserRecord) LimitedAt(t time.Time) bool {
	return u.LimitedUntil != nil && t.Before(*u.LimitedUntil)
}

// FlagLimitedAt reports whether the user's flag filing is restricted at t.
func (u *UserRecord) FlagLimitedAt(t time.Time) bool {
	return u.FlagLimitedUntil != nil && t.Before(*u.FlagLimitedUntil)
}

// Rating is an append-only peer rating fact.
type Rating struct {
	ID        string    `json:"id"`
	RaterUID  string    `json:"raterUid"`
	RatedUID  string    `json:"ratedUid"`
	ChatID    string    `json:"chatId"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CountsTowardScore reports whether the rating contributes to the live
// average. Ratings outside [1,5] stars are discarded, not clamped.
func (r Rating) CountsTowardScore() bool {
	return r.Stars >= 1 && r.Stars <= 5
}

// Flag is an append-only abuse report fact.
type Flag struct {
	ID        string    `json:"id"`
	FromUID   string    `json:"fromUid"`
	ToUID     string    `json:"toUid"`
	Reason    string    `json:"reason"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the derived trust state produced by a recompute.
type State struct {
	Score             int     `json:"trustScore"`
	Badge             Badge   `json:"badge"`
	RatingCount       int     `json:"ratingCount"`
	RatingAvg         float64 `json:"ratingAvg"`
	FlagsAgainstToday int     `json:"flagsAgainstToday"`
	Limits            Limits  `json:"limits"`
}
