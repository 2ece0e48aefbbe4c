package trust

import "math"

// Policy holds the fixed, versionable scoring and quota constants.
// The engine's thresholds are the single canonical source; UI consumers
// must read badge and limits from the persisted user record rather than
// reimplementing this table.
type Policy struct {
	// Badge thresholds on trust score.
	TrustedScore  int
	VerifiedScore int

	// Minimum rating count gates for badges.
	TrustedMinRatings  int
	VerifiedMinRatings int

	// Score part weights, in percent. Must sum sensibly but are not
	// required to total 100 since the flags weight is a penalty.
	RatingWeight   float64
	ActivityWeight float64
	FlagsWeight    float64

	// RatingWindow bounds how many recent ratings feed the live average.
	// Older ratings remain in history but not in the score.
	RatingWindow int

	// Per-day quotas by badge tier.
	QuotaNew      Limits
	QuotaTrusted  Limits
	QuotaVerified Limits

	// LimitHours is the restriction window issued on quota overage.
	LimitHours int

	// BanFlagsPerDay is the flags-received-today threshold for auto-ban.
	BanFlagsPerDay int
}

// PolicyVersion identifies the constants below; bump when tuning them.
const PolicyVersion = 1

// DefaultPolicy returns the production policy constants.
func DefaultPolicy() Policy {
	return Policy{
		TrustedScore:       45,
		VerifiedScore:      75,
		TrustedMinRatings:  3,
		VerifiedMinRatings: 10,

		RatingWeight:   60,
		ActivityWeight: 25,
		FlagsWeight:    15,

		RatingWindow: 200,

		QuotaNew:      Limits{MessagesPerDay: 50, FilesPerDay: 5, FlagsPerDay: 3},
		QuotaTrusted:  Limits{MessagesPerDay: 200, FilesPerDay: 20, FlagsPerDay: 10},
		QuotaVerified: Limits{MessagesPerDay: 500, FilesPerDay: 50, FlagsPerDay: 20},

		LimitHours:     24,
		BanFlagsPerDay: 5,
	}
}

// BadgeFrom classifies a user into a badge tier. It is a pure function of
// score and rating count.
func (p Policy) BadgeFrom(score, ratingCount int) Badge {
	if score >= p.VerifiedScore && ratingCount >= p.VerifiedMinRatings {
		return BadgeVerified
	}
	if score >= p.TrustedScore && ratingCount >= p.TrustedMinRatings {
		return BadgeTrusted
	}
	return BadgeNew
}

// QuotaFor returns the per-day quota table for a badge tier.
// Unknown badges fall back to the New tier.
func (p Policy) QuotaFor(badge Badge) Limits {
	switch badge {
	case BadgeVerified:
		return p.QuotaVerified
	case BadgeTrusted:
		return p.QuotaTrusted
	}
	return p.QuotaNew
}

// ScoreInputs are the aggregate facts a score is computed from.
type ScoreInputs struct {
	RatingCount       int
	RatingAvg         float64
	MessagesToday     int
	FilesToday        int
	FlagsAgainstToday int
}

// Score computes the 0-100 trust score from aggregate facts.
//
// Three weighted parts, each on a 0-100 internal scale before weighting:
// a 1-star average maps to zero rating contribution and 5 stars to full;
// activity is soft-capped at 50 messages / 5 files; five or more flags
// received today saturate the penalty.
func (p Policy) Score(in ScoreInputs) int {
	var ratingPart float64
	if in.RatingCount > 0 {
		ratingPart = clamp((in.RatingAvg-1)/4, 0, 1) * 100 * p.RatingWeight / 100
	}

	activityRaw := clamp(float64(in.MessagesToday)/50*60+float64(in.FilesToday)/5*40, 0, 100)
	activityPart := activityRaw * p.ActivityWeight / 100

	flagsRaw := clamp(float64(in.FlagsAgainstToday)/5*100, 0, 100)
	flagsPenalty := flagsRaw * p.FlagsWeight / 100

	score := clamp(math.Round(ratingPart+activityPart-flagsPenalty), 0, 100)
	return int(score)
}

// clamp bounds n to [lo, hi].
func clamp(n, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, n))
}
