package usagelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles quota_events PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists one event. Redelivered events with a known id are ignored.
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO quota_events (id, user_id, family, outcome, remaining, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.Family, e.Outcome, remainingJSON(e.Remaining), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting quota event: %w", err)
	}
	return nil
}

// ListByUser returns a page of a user's events, newest first, and the total
// number of matching events.
func (r *Repository) ListByUser(ctx context.Context, userID string, params ListParams) ([]Event, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.Family != "" {
		conditions = append(conditions, fmt.Sprintf("family = $%d", argIdx))
		args = append(args, params.Family)
		argIdx++
	}
	if params.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, params.Outcome)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var totalCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM quota_events WHERE %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting quota events: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, user_id, family, outcome, remaining, created_at
		 FROM quota_events WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying quota events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, params.PageSize)
	for rows.Next() {
		var (
			e         Event
			remaining []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Family, &e.Outcome, &remaining, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning quota event: %w", err)
		}
		if err := json.Unmarshal(remaining, &e.Remaining); err != nil {
			return nil, 0, fmt.Errorf("decoding remaining for event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating quota events: %w", err)
	}

	return events, totalCount, nil
}
