package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QuotaRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewQuotaRepository(pool *pgxpool.Pool, timeout time.Duration) *QuotaRepository {
	return &QuotaRepository{pool: pool, timeout: timeout}
}

// Consume increments the user's counter for day in a single statement.
// A stale date resets the counter to 1; a counter already at limit is
// left as is and no row comes back. Postgres re-checks the WHERE clause
// against the locked row, so concurrent callers cannot both pass the
// last slot, even from different server processes.
func (r *QuotaRepository) Consume(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	const query = `
		INSERT INTO transform_quotas AS q (user_id, quota_date, count, updated_at)
		VALUES ($1, $2::date, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET count = CASE WHEN q.quota_date = EXCLUDED.quota_date THEN q.count + 1 ELSE 1 END,
		    quota_date = EXCLUDED.quota_date,
		    updated_at = NOW()
		WHERE q.quota_date <> EXCLUDED.quota_date OR q.count < $3
		RETURNING count
	`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, query, userID, day, limit).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return limit, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

// PruneBefore deletes counters whose day is older than day. Consume
// recreates them on demand, so this only reclaims space.
func (r *QuotaRepository) PruneBefore(ctx context.Context, day time.Time) (int64, error) {
	const query = `DELETE FROM transform_quotas WHERE quota_date < $1::date`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	cmd, err := r.pool.Exec(ctx, query, day)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
