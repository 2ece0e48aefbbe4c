package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerhelp/reputation/internal/ledger"
	"github.com/peerhelp/reputation/internal/tracing"
	"github.com/peerhelp/reputation/internal/trust"
)

// Engine applies activity events to the usage ledger and trust records.
//
// Handlers are idempotent where the stores allow: restriction markers and
// bans are merge-writes that converge under redelivery, while ledger
// increments rely on at-most-once delivery from the stream.
type Engine struct {
	policy  trust.Policy
	usage   ledger.Store
	users   trust.Store
	calc    *trust.Calculator
	logger  *slog.Logger
	metrics *Metrics

	now func() time.Time
}

// New creates an event engine. metrics may be nil.
func New(policy trust.Policy, usage ledger.Store, users trust.Store, calc *trust.Calculator, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policy:  policy,
		usage:   usage,
		users:   users,
		calc:    calc,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the engine's notion of "now". Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Handle dispatches a decoded stream event to its handler. Malformed and
// unknown events are counted and skipped; a non-nil return means the event
// should be redelivered.
func (e *Engine) Handle(ctx context.Context, env Envelope) error {
	start := e.now()

	ev, err := Decode(env)
	if err != nil {
		e.logger.Warn("skipping undecodable event",
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()))
		if e.metrics != nil {
			e.metrics.IncMalformed()
			e.metrics.IncEvent(string(env.Type), "malformed")
		}
		return nil
	}

	switch ev := ev.(type) {
	case *RatingCreated:
		err = e.HandleRatingCreated(ctx, ev)
	case *MessageCreated:
		err = e.HandleMessageCreated(ctx, ev)
	case *FlagCreated:
		err = e.HandleFlagCreated(ctx, ev)
	case *FileUploaded:
		err = e.HandleFileUploaded(ctx, ev)
	}

	if e.metrics != nil {
		e.metrics.ObserveHandleDuration(string(env.Type), time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.IncEvent(string(env.Type), status)
	}
	return err
}

// HandleRatingCreated recomputes the rated user's trust state. Ratings with
// out-of-range stars still trigger a recompute; the calculator discards them
// from the average.
func (e *Engine) HandleRatingCreated(ctx context.Context, ev *RatingCreated) error {
	if ev.RatedUID == "" {
		e.logger.Warn("rating event without rated uid", slog.String("rating_id", ev.ID))
		if e.metrics != nil {
			e.metrics.IncMalformed()
		}
		return nil
	}

	ctx, endSpan := tracing.StartEventSpan(ctx, string(EventRatingCreated), ev.RatedUID)

	if !(trust.Rating{Stars: ev.Stars}).CountsTowardScore() {
		e.logger.Warn("rating with out-of-range stars excluded from average",
			slog.String("rating_id", ev.ID),
			slog.Int("stars", ev.Stars))
	}

	_, err := e.calc.Recompute(ctx, ev.RatedUID)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("recompute after rating for %s: %w", ev.RatedUID, err)
	}
	return nil
}

// HandleMessageCreated counts the message against the sender's daily quota
// and imposes a restriction window on overage. File-typed messages count as
// both a message and a file.
func (e *Engine) HandleMessageCreated(ctx context.Context, ev *MessageCreated) error {
	uid := ev.Message.From
	if uid == "" {
		e.logger.Warn("message event without sender uid", slog.String("chat_id", ev.Message.ChatID))
		if e.metrics != nil {
			e.metrics.IncMalformed()
		}
		return nil
	}

	ctx, endSpan := tracing.StartEventSpan(ctx, string(EventMessageCreated), uid)
	err := e.handleMessageCreated(ctx, uid, ev.Message.Type == "file")
	endSpan(err)
	return err
}

func (e *Engine) handleMessageCreated(ctx context.Context, uid string, isFile bool) error {
	rec, err := e.usage.Increment(ctx, uid, ledger.KindMessages, 1)
	if err != nil {
		return fmt.Errorf("count message for %s: %w", uid, err)
	}
	if isFile {
		rec, err = e.usage.Increment(ctx, uid, ledger.KindFiles, 1)
		if err != nil {
			return fmt.Errorf("count file message for %s: %w", uid, err)
		}
	}

	user, err := e.users.EnsureUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("load user %s: %w", uid, err)
	}
	quota := e.policy.QuotaFor(user.Badge)

	if rec.Messages > quota.MessagesPerDay {
		if err := e.imposeLimit(ctx, uid, "messages", rec.Messages, quota.MessagesPerDay); err != nil {
			return err
		}
	}
	if isFile && rec.Files > quota.FilesPerDay {
		if err := e.imposeLimit(ctx, uid, "files", rec.Files, quota.FilesPerDay); err != nil {
			return err
		}
	}

	e.refreshTrust(ctx, uid)
	return nil
}

// HandleFileUploaded counts an uploaded file against the uploader's daily
// quota. The uploader is parsed from the storage path; files outside the
// chat layout are ignored.
func (e *Engine) HandleFileUploaded(ctx context.Context, ev *FileUploaded) error {
	uid := UploaderFromPath(ev.Name)
	if uid == "" {
		e.logger.Debug("ignoring file outside chat layout", slog.String("path", ev.Name))
		return nil
	}

	ctx, endSpan := tracing.StartEventSpan(ctx, string(EventFileUploaded), uid)
	err := e.handleFileUploaded(ctx, uid)
	endSpan(err)
	return err
}

func (e *Engine) handleFileUploaded(ctx context.Context, uid string) error {
	rec, err := e.usage.Increment(ctx, uid, ledger.KindFiles, 1)
	if err != nil {
		return fmt.Errorf("count file for %s: %w", uid, err)
	}

	user, err := e.users.EnsureUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("load user %s: %w", uid, err)
	}
	quota := e.policy.QuotaFor(user.Badge)

	if rec.Files > quota.FilesPerDay {
		if err := e.imposeLimit(ctx, uid, "files", rec.Files, quota.FilesPerDay); err != nil {
			return err
		}
	}

	e.refreshTrust(ctx, uid)
	return nil
}

// HandleFlagCreated counts the flag against the filer's daily quota, then
// refreshes the target's flags-received count, auto-banning on threshold,
// and recomputes the target's trust state.
func (e *Engine) HandleFlagCreated(ctx context.Context, ev *FlagCreated) error {
	if ev.FromUID == "" || ev.ToUID == "" {
		e.logger.Warn("flag event with missing uid",
			slog.String("flag_id", ev.ID),
			slog.String("from", ev.FromUID),
			slog.String("to", ev.ToUID))
		if e.metrics != nil {
			e.metrics.IncMalformed()
		}
		return nil
	}

	ctx, endSpan := tracing.StartEventSpan(ctx, string(EventFlagCreated), ev.ToUID)
	err := e.handleFlagCreated(ctx, ev)
	endSpan(err)
	return err
}

func (e *Engine) handleFlagCreated(ctx context.Context, ev *FlagCreated) error {
	// Filer side: flags filed count toward the filer's own quota.
	rec, err := e.usage.Increment(ctx, ev.FromUID, ledger.KindFlags, 1)
	if err != nil {
		return fmt.Errorf("count flag for filer %s: %w", ev.FromUID, err)
	}

	filer, err := e.users.EnsureUser(ctx, ev.FromUID)
	if err != nil {
		return fmt.Errorf("load filer %s: %w", ev.FromUID, err)
	}
	quota := e.policy.QuotaFor(filer.Badge)

	if rec.Flags > quota.FlagsPerDay {
		until := e.now().Add(time.Duration(e.policy.LimitHours) * time.Hour)
		if err := e.users.SetFlagLimitedUntil(ctx, ev.FromUID, until); err != nil {
			return fmt.Errorf("restrict flag filing for %s: %w", ev.FromUID, err)
		}
		e.logger.Info("flag filing restricted",
			slog.String("uid", ev.FromUID),
			slog.Int("flags_today", rec.Flags),
			slog.Int("quota", quota.FlagsPerDay),
			slog.Time("until", until))
		if e.metrics != nil {
			e.metrics.IncLimitImposed("flags")
		}
	}

	// Target side: recount from the facts table, never increment a cached
	// counter, so redelivered events cannot inflate the ban signal.
	now := e.now()
	against, err := e.users.FlagsAgainstInRange(ctx, ev.ToUID,
		ledger.StartOfUTCDay(now), ledger.EndOfUTCDay(now))
	if err != nil {
		return fmt.Errorf("count flags against %s: %w", ev.ToUID, err)
	}
	if _, err := e.users.EnsureUser(ctx, ev.ToUID); err != nil {
		return fmt.Errorf("load target %s: %w", ev.ToUID, err)
	}
	if err := e.users.SetFlagsAgainstToday(ctx, ev.ToUID, against); err != nil {
		return fmt.Errorf("persist flags against %s: %w", ev.ToUID, err)
	}

	if against >= e.policy.BanFlagsPerDay {
		reason := fmt.Sprintf("Auto-ban: %d flags today", against)
		if err := e.users.Ban(ctx, ev.ToUID, reason, now); err != nil {
			return fmt.Errorf("ban user %s: %w", ev.ToUID, err)
		}
		if e.metrics != nil {
			e.metrics.IncBans()
		}
	}

	e.refreshTrust(ctx, ev.ToUID)
	e.refreshTrust(ctx, ev.FromUID)
	return nil
}

// imposeLimit sets the message/file restriction marker after a quota breach.
func (e *Engine) imposeLimit(ctx context.Context, uid, kind string, count, quota int) error {
	until := e.now().Add(time.Duration(e.policy.LimitHours) * time.Hour)
	if err := e.users.SetLimitedUntil(ctx, uid, until); err != nil {
		return fmt.Errorf("restrict %s for %s: %w", kind, uid, err)
	}
	e.logger.Info("daily quota exceeded, restriction imposed",
		slog.String("uid", uid),
		slog.String("kind", kind),
		slog.Int("count", count),
		slog.Int("quota", quota),
		slog.Time("until", until))
	if e.metrics != nil {
		e.metrics.IncLimitImposed(kind)
	}
	return nil
}

// refreshTrust recomputes trust state best-effort. The counters and markers
// written before this call are the event's durable effects; a stale score
// heals on the next recompute.
func (e *Engine) refreshTrust(ctx context.Context, uid string) {
	if _, err := e.calc.Recompute(ctx, uid); err != nil {
		e.logger.Warn("trust refresh failed",
			slog.String("uid", uid),
			slog.String("error", err.Error()))
		if e.metrics != nil {
			e.metrics.IncRefreshFailures()
		}
	}
}
