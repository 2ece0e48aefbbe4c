package trust

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerhelp/reputation/internal/ledger"
	"github.com/peerhelp/reputation/internal/tracing"
)

// Store provides access to user trust records and the rating/flag facts
// they are derived from. Implementations must make per-user writes
// merge-semantics: only the named fields change, everything else is
// preserved.
type Store interface {
	// EnsureUser returns the user's trust record, creating it with zero
	// defaults if it does not exist.
	EnsureUser(ctx context.Context, uid string) (*UserRecord, error)

	// MergeState merge-writes the derived trust fields onto the user
	// record: trustScore, badge, ratingCount, ratingAvg,
	// flagsAgainstToday, limits, updatedAt.
	MergeState(ctx context.Context, uid string, st State) error

	// SetLimitedUntil merge-writes the message/file restriction marker.
	SetLimitedUntil(ctx context.Context, uid string, until time.Time) error

	// SetFlagLimitedUntil merge-writes the flag-filing restriction marker.
	SetFlagLimitedUntil(ctx context.Context, uid string, until time.Time) error

	// SetFlagsAgainstToday merge-writes the refreshed flags-received count.
	SetFlagsAgainstToday(ctx context.Context, uid string, count int) error

	// Ban marks the user banned. The transition is one-way: implementations
	// never clear isBanned.
	Ban(ctx context.Context, uid, reason string, at time.Time) error

	// RecentRatings returns the most recent ratings received by uid,
	// newest first, at most limit.
	RecentRatings(ctx context.Context, uid string, limit int) ([]Rating, error)

	// FlagsAgainstInRange counts flags filed against uid with createdAt
	// inside [from, to].
	FlagsAgainstInRange(ctx context.Context, uid string, from, to time.Time) (int, error)
}

// SnapshotPublisher receives derived trust state after each recompute so
// client reads can avoid the primary store. Publishing is best-effort.
type SnapshotPublisher interface {
	Publish(ctx context.Context, uid string, st State) error
}

// Calculator recomputes trust state from current aggregate facts.
// Recomputation is idempotent: repeated calls with no intervening facts
// yield identical results, so racing recomputes converge.
type Calculator struct {
	policy    Policy
	store     Store
	usage     ledger.Store
	snapshots SnapshotPublisher
	logger    *slog.Logger
	metrics   *Metrics

	now func() time.Time
}

// NewCalculator creates a trust calculator. snapshots and metrics may be nil.
func NewCalculator(policy Policy, store Store, usage ledger.Store, snapshots SnapshotPublisher, logger *slog.Logger, metrics *Metrics) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		policy:    policy,
		store:     store,
		usage:     usage,
		snapshots: snapshots,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the calculator's notion of "now". Intended for tests.
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

// Policy returns the policy constants the calculator scores with.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// Recompute re-derives the trust state for uid from current facts and
// merge-writes it onto the user record.
func (c *Calculator) Recompute(ctx context.Context, uid string) (State, error) {
	if uid == "" {
		return State{}, ErrEmptyUID
	}

	ctx, endSpan := tracing.StartSpan(ctx, "trust.recompute")
	start := c.now()

	st, err := c.recompute(ctx, uid)
	endSpan(err)

	if c.metrics != nil {
		c.metrics.ObserveRecomputeDuration(time.Since(start).Seconds())
		if err != nil {
			c.metrics.IncRecomputeErrors()
		} else {
			c.metrics.IncRecomputeTotal()
			c.metrics.SetLastRecomputeTimestamp(float64(c.now().Unix()))
		}
	}
	return st, err
}

func (c *Calculator) recompute(ctx context.Context, uid string) (State, error) {
	if _, err := c.store.EnsureUser(ctx, uid); err != nil {
		return State{}, fmt.Errorf("ensure user %s: %w", uid, err)
	}

	ratings, err := c.store.RecentRatings(ctx, uid, c.policy.RatingWindow)
	if err != nil {
		return State{}, fmt.Errorf("fetch ratings for %s: %w", uid, err)
	}

	var sum, count int
	for _, r := range ratings {
		if r.CountsTowardScore() {
			sum += r.Stars
			count++
		}
	}
	var avg float64
	if count > 0 {
		avg = float64(sum) / float64(count)
	}

	usage, err := c.usage.Today(ctx, uid)
	if err != nil {
		return State{}, fmt.Errorf("fetch usage for %s: %w", uid, err)
	}

	now := c.now()
	flagsAgainst, err := c.store.FlagsAgainstInRange(ctx, uid, ledger.StartOfUTCDay(now), ledger.EndOfUTCDay(now))
	if err != nil {
		return State{}, fmt.Errorf("count flags against %s: %w", uid, err)
	}

	score := c.policy.Score(ScoreInputs{
		RatingCount:       count,
		RatingAvg:         avg,
		MessagesToday:     usage.Messages,
		FilesToday:        usage.Files,
		FlagsAgainstToday: flagsAgainst,
	})
	badge := c.policy.BadgeFrom(score, count)

	st := State{
		Score:             score,
		Badge:             badge,
		RatingCount:       count,
		RatingAvg:         avg,
		FlagsAgainstToday: flagsAgainst,
		Limits:            c.policy.QuotaFor(badge),
	}

	if err := c.store.MergeState(ctx, uid, st); err != nil {
		return State{}, fmt.Errorf("persist trust state for %s: %w", uid, err)
	}

	c.logger.Debug("trust state recomputed",
		slog.String("uid", uid),
		slog.Int("score", st.Score),
		slog.String("badge", string(st.Badge)),
		slog.Int("rating_count", st.RatingCount),
		slog.Int("flags_against_today", st.FlagsAgainstToday))

	// Snapshot publishing is a freshness aid, never a correctness write.
	if c.snapshots != nil {
		if err := c.snapshots.Publish(ctx, uid, st); err != nil {
			c.logger.Warn("trust snapshot publish failed",
				slog.String("uid", uid),
				slog.String("error", err.Error()))
			if c.metrics != nil {
				c.metrics.IncSnapshotErrors()
			}
		}
	}

	return st, nil
}
