package trust

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerhelp/reputation/internal/tracing"
)

// PostgresStore implements Store using PostgreSQL.
// All writes are merge-semantics: only the named columns change.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed trust store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureUser returns the user's trust record, creating it with zero defaults
// if it does not exist. Creation races resolve inside the database; the
// losing insert reads the winner's row.
func (s *PostgresStore) EnsureUser(ctx context.Context, uid string) (*UserRecord, error) {
	if uid == "" {
		return nil, ErrEmptyUID
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)

	insert := `
		INSERT INTO users (uid, trust_score, badge, rating_count, rating_avg, flags_against_today,
			messages_per_day, files_per_day, flags_per_day, is_banned, created_at, updated_at)
		VALUES ($1, 0, $2, 0, 0, 0, $3, $4, $5, FALSE, NOW(), NOW())
		ON CONFLICT (uid) DO NOTHING
	`
	quota := DefaultPolicy().QuotaNew
	if _, err := s.db.ExecContext(ctx, insert, uid, string(BadgeNew),
		quota.MessagesPerDay, quota.FilesPerDay, quota.FlagsPerDay); err != nil {
		endSpan(err)
		return nil, fmt.Errorf("ensure user %s: %w", uid, err)
	}

	u, err := s.getUser(ctx, uid)
	endSpan(err)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns the user's trust record, or sql.ErrNoRows if absent.
func (s *PostgresStore) GetUser(ctx context.Context, uid string) (*UserRecord, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	u, err := s.getUser(ctx, uid)
	endSpan(err)
	return u, err
}

func (s *PostgresStore) getUser(ctx context.Context, uid string) (*UserRecord, error) {
	query := `
		SELECT uid, trust_score, badge, rating_count, rating_avg, flags_against_today,
			messages_per_day, files_per_day, flags_per_day,
			limited_until, flag_limited_until,
			is_banned, ban_reason, banned_at, created_at, updated_at
		FROM users
		WHERE uid = $1
	`

	var (
		u         UserRecord
		badge     string
		banReason sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, uid).Scan(
		&u.UID, &u.TrustScore, &badge, &u.RatingCount, &u.RatingAvg, &u.FlagsAgainstToday,
		&u.Limits.MessagesPerDay, &u.Limits.FilesPerDay, &u.Limits.FlagsPerDay,
		&u.LimitedUntil, &u.FlagLimitedUntil,
		&u.IsBanned, &banReason, &u.BannedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", uid, err)
	}

	u.Badge = Badge(badge)
	if banReason.Valid {
		u.BanReason = banReason.String
	}
	return &u, nil
}

// MergeState merge-writes the derived trust fields onto the user record.
func (s *PostgresStore) MergeState(ctx context.Context, uid string, st State) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)

	query := `
		UPDATE users SET
			trust_score = $2,
			badge = $3,
			rating_count = $4,
			rating_avg = $5,
			flags_against_today = $6,
			messages_per_day = $7,
			files_per_day = $8,
			flags_per_day = $9,
			updated_at = NOW()
		WHERE uid = $1
	`
	_, err := s.db.ExecContext(ctx, query, uid,
		st.Score, string(st.Badge), st.RatingCount, st.RatingAvg, st.FlagsAgainstToday,
		st.Limits.MessagesPerDay, st.Limits.FilesPerDay, st.Limits.FlagsPerDay)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("merge trust state for %s: %w", uid, err)
	}
	return nil
}

// SetLimitedUntil merge-writes the message/file restriction marker.
func (s *PostgresStore) SetLimitedUntil(ctx context.Context, uid string, until time.Time) error {
	return s.setTimestamp(ctx, uid, "limited_until", until)
}

// SetFlagLimitedUntil merge-writes the flag-filing restriction marker.
func (s *PostgresStore) SetFlagLimitedUntil(ctx context.Context, uid string, until time.Time) error {
	return s.setTimestamp(ctx, uid, "flag_limited_until", until)
}

// setTimestamp merge-writes a single timestamp column. The column name is
// always one of the two restriction markers, never caller input.
func (s *PostgresStore) setTimestamp(ctx context.Context, uid, column string, until time.Time) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)

	query := fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = NOW() WHERE uid = $1`, column)
	_, err := s.db.ExecContext(ctx, query, uid, until)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("set %s for %s: %w", column, uid, err)
	}
	return nil
}

// SetFlagsAgainstToday merge-writes the refreshed flags-received count.
func (s *PostgresStore) SetFlagsAgainstToday(ctx context.Context, uid string, count int) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)

	query := `UPDATE users SET flags_against_today = $2, updated_at = NOW() WHERE uid = $1`
	_, err := s.db.ExecContext(ctx, query, uid, count)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("set flags_against_today for %s: %w", uid, err)
	}
	return nil
}

// Ban marks the user banned. The SQL never clears is_banned, so the
// transition is one-way even under redelivered events.
func (s *PostgresStore) Ban(ctx context.Context, uid, reason string, at time.Time) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)

	query := `
		UPDATE users SET
			is_banned = TRUE,
			ban_reason = $2,
			banned_at = COALESCE(banned_at, $3),
			updated_at = NOW()
		WHERE uid = $1
	`
	_, err := s.db.ExecContext(ctx, query, uid, reason, at)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("ban user %s: %w", uid, err)
	}

	s.logger.Warn("user banned",
		slog.String("uid", uid),
		slog.String("reason", reason))
	return nil
}

// RecentRatings returns the most recent ratings received by uid, newest
// first, at most limit.
func (s *PostgresStore) RecentRatings(ctx context.Context, uid string, limit int) ([]Rating, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ratings", tracing.DBOperationQuery)

	query := `
		SELECT id, rater_uid, rated_uid, chat_id, stars, comment, created_at
		FROM ratings
		WHERE rated_uid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, uid, limit)
	if err != nil {
		endSpan(err)
		return nil, fmt.Errorf("query ratings for %s: %w", uid, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("failed to close ratings rows", slog.String("error", cerr.Error()))
		}
	}()

	var ratings []Rating
	for rows.Next() {
		var (
			r       Rating
			comment sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RaterUID, &r.RatedUID, &r.ChatID, &r.Stars, &comment, &r.CreatedAt); err != nil {
			endSpan(err)
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		if comment.Valid {
			r.Comment = comment.String
		}
		ratings = append(ratings, r)
	}
	err = rows.Err()
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("iterate ratings for %s: %w", uid, err)
	}
	return ratings, nil
}

// FlagsAgainstInRange counts flags filed against uid inside [from, to].
func (s *PostgresStore) FlagsAgainstInRange(ctx context.Context, uid string, from, to time.Time) (int, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "flags", tracing.DBOperationQuery)

	query := `
		SELECT COUNT(*)
		FROM flags
		WHERE to_uid = $1 AND created_at >= $2 AND created_at <= $3
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, uid, from, to).Scan(&count)
	endSpan(err)
	if err != nil {
		return 0, fmt.Errorf("count flags against %s: %w", uid, err)
	}
	return count, nil
}
