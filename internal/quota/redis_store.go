package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "quota:"

// RedisStore keeps one hash per (family, user) and updates it with
// WATCH/MULTI/EXEC, retrying when another client touched the key first.
type RedisStore struct {
	rdb        redis.UniversalClient
	maxRetries int
}

// NewRedisStore creates a Redis-backed ledger store.
func NewRedisStore(rdb redis.UniversalClient, maxRetries int) *RedisStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisStore{rdb: rdb, maxRetries: maxRetries}
}

func recordKey(family Family, userID string) string {
	return recordKeyPrefix + string(family) + ":" + userID
}

// Get returns the stored record, or nil if the user has none.
func (s *RedisStore) Get(ctx context.Context, family Family, userID string) (*Record, error) {
	vals, err := s.rdb.HGetAll(ctx, recordKey(family, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading quota record: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return decodeRecord(family, userID, vals)
}

// Update runs fn in an optimistic transaction on the record's key.
func (s *RedisStore) Update(ctx context.Context, family Family, userID string, fn UpdateFunc) error {
	key := recordKey(family, userID)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("reading quota record: %w", err)
		}

		var current *Record
		if len(vals) > 0 {
			current, err = decodeRecord(family, userID, vals)
			if err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRecord(next))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("updating quota record: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrTxConflict
}

func countField(p Period) string {
	return string(p) + "Count"
}

func resetField(p Period) string {
	return "last" + strings.ToUpper(string(p[:1])) + string(p[1:]) + "Reset"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func encodeRecord(rec *Record) map[string]any {
	fields := map[string]any{
		"totalRequests":      rec.TotalRequests,
		"firstRequestAt":     formatTime(rec.FirstRequestAt),
		"lastRequestAt":      formatTime(rec.LastRequestAt),
		"quotaExceededCount": rec.QuotaExceededCount,
	}
	for p, c := range rec.Counters {
		fields[countField(p)] = c.Count
		fields[resetField(p)] = formatTime(c.LastReset)
	}
	return fields
}

func decodeRecord(family Family, userID string, vals map[string]string) (*Record, error) {
	rec := newRecord(family, userID)
	var err error

	if rec.TotalRequests, err = parseInt64(vals, "totalRequests"); err != nil {
		return nil, err
	}
	if rec.QuotaExceededCount, err = parseInt64(vals, "quotaExceededCount"); err != nil {
		return nil, err
	}
	if rec.FirstRequestAt, err = parseTime("firstRequestAt", vals["firstRequestAt"]); err != nil {
		return nil, err
	}
	if rec.LastRequestAt, err = parseTime("lastRequestAt", vals["lastRequestAt"]); err != nil {
		return nil, err
	}

	for _, p := range periodOrder {
		raw, ok := vals[countField(p)]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", countField(p), err)
		}
		reset, err := parseTime(resetField(p), vals[resetField(p)])
		if err != nil {
			return nil, err
		}
		rec.Counters[p] = Counter{Count: n, LastReset: reset}
	}
	return rec, nil
}

func parseInt64(vals map[string]string, field string) (int64, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return n, nil
}
