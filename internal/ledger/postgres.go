package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerhelp/reputation/internal/tracing"
)

// PostgresStore implements Store using PostgreSQL.
// Increments are single-statement upserts, so concurrent increments for the
// same (uid, day) key serialize inside the database and never lose updates.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed usage ledger.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Increment atomically adds delta to the given counter for the current UTC day.
// On commit failure the error wraps ErrUnavailable so handlers propagate it
// and the event source redelivers.
func (s *PostgresStore) Increment(ctx context.Context, uid string, kind Kind, delta int) (Record, error) {
	if !kind.Valid() {
		return Record{}, ErrInvalidKind
	}
	if delta <= 0 {
		return Record{}, ErrInvalidDelta
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "usage_daily", tracing.DBOperationUpdate)

	now := time.Now().UTC()
	dayKey := DayKey(now)

	var msgDelta, fileDelta, flagDelta int
	switch kind {
	case KindMessages:
		msgDelta = delta
	case KindFiles:
		fileDelta = delta
	case KindFlags:
		flagDelta = delta
	}

	query := `
		INSERT INTO usage_daily (uid, day_key, messages, files, flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (uid, day_key) DO UPDATE SET
			messages = usage_daily.messages + EXCLUDED.messages,
			files = usage_daily.files + EXCLUDED.files,
			flags = usage_daily.flags + EXCLUDED.flags,
			updated_at = NOW()
		RETURNING messages, files, flags, created_at, updated_at
	`

	rec := Record{UID: uid, DayKey: dayKey}
	err := s.db.QueryRowContext(ctx, query, uid, dayKey, msgDelta, fileDelta, flagDelta).
		Scan(&rec.Messages, &rec.Files, &rec.Flags, &rec.CreatedAt, &rec.UpdatedAt)
	endSpan(err)
	if err != nil {
		s.logger.Error("usage increment failed",
			slog.String("uid", uid),
			slog.String("kind", string(kind)),
			slog.String("day_key", dayKey),
			slog.String("error", err.Error()))
		return Record{}, fmt.Errorf("increment %s for %s: %w", kind, uid, ErrUnavailable)
	}

	return rec, nil
}

// Today returns the current UTC day's record for the user.
func (s *PostgresStore) Today(ctx context.Context, uid string) (Record, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "usage_daily", tracing.DBOperationQuery)

	dayKey := DayKey(time.Now())
	rec := Record{UID: uid, DayKey: dayKey}

	query := `
		SELECT messages, files, flags, created_at, updated_at
		FROM usage_daily
		WHERE uid = $1 AND day_key = $2
	`
	err := s.db.QueryRowContext(ctx, query, uid, dayKey).
		Scan(&rec.Messages, &rec.Files, &rec.Flags, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		endSpan(nil)
		return Record{UID: uid, DayKey: dayKey}, nil
	}
	endSpan(err)
	if err != nil {
		return Record{}, fmt.Errorf("read usage for %s: %w", uid, ErrUnavailable)
	}

	return rec, nil
}
