package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore handles quota_records PostgreSQL operations. Each update runs
// in a serializable transaction and is retried on serialization failures.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(pool *pgxpool.Pool, maxRetries int) *PostgresStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &PostgresStore{pool: pool, maxRetries: maxRetries}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get returns the stored record, or nil if the user has none.
func (s *PostgresStore) Get(ctx context.Context, family Family, userID string) (*Record, error) {
	return s.fetch(ctx, s.pool, family, userID, false)
}

// Update runs fn inside a serializable transaction holding the row lock.
func (s *PostgresStore) Update(ctx context.Context, family Family, userID string, fn UpdateFunc) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			current, err := s.fetch(ctx, tx, family, userID, true)
			if err != nil {
				return err
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}
			return s.upsert(ctx, tx, next)
		})
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrTxConflict
}

func (s *PostgresStore) fetch(ctx context.Context, q rowQuerier, family Family, userID string, lock bool) (*Record, error) {
	query := `SELECT counters, total_requests, first_request_at, last_request_at, quota_exceeded_count
		 FROM quota_records WHERE family = $1 AND user_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		counters       []byte
		firstRequestAt *time.Time
		lastRequestAt  *time.Time
	)
	rec := newRecord(family, userID)
	err := q.QueryRow(ctx, query, string(family), userID).Scan(
		&counters, &rec.TotalRequests, &firstRequestAt, &lastRequestAt, &rec.QuotaExceededCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching quota record: %w", err)
	}

	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &rec.Counters); err != nil {
			return nil, fmt.Errorf("decoding quota counters: %w", err)
		}
	}
	if firstRequestAt != nil {
		rec.FirstRequestAt = *firstRequestAt
	}
	if lastRequestAt != nil {
		rec.LastRequestAt = *lastRequestAt
	}
	return rec, nil
}

func (s *PostgresStore) upsert(ctx context.Context, tx pgx.Tx, rec *Record) error {
	counters, err := json.Marshal(rec.Counters)
	if err != nil {
		return fmt.Errorf("encoding quota counters: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quota_records (family, user_id, counters, total_requests, first_request_at,
		                            last_request_at, quota_exceeded_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (family, user_id) DO UPDATE
		 SET counters = EXCLUDED.counters,
		     total_requests = EXCLUDED.total_requests,
		     first_request_at = EXCLUDED.first_request_at,
		     last_request_at = EXCLUDED.last_request_at,
		     quota_exceeded_count = EXCLUDED.quota_exceeded_count,
		     updated_at = NOW()`,
		string(rec.Family), rec.UserID, counters, rec.TotalRequests,
		nullableTime(rec.FirstRequestAt), nullableTime(rec.LastRequestAt), rec.QuotaExceededCount)
	if err != nil {
		return fmt.Errorf("upserting quota record: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isSerializationFailure reports SQLSTATE 40001 (serialization_failure) and
// 40P01 (deadlock_detected), both safe to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
