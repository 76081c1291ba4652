package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, maxRetries int) (*RedisStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, maxRetries), rdb, mr
}

func TestRedisStore_PersistsDocumentFields(t *testing.T) {
	store, _, mr := setupRedisStore(t, 3)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	err := store.Update(ctx, FamilyTrainingAnalysis, "user-1", func(rec *Record) (*Record, error) {
		assert.Nil(t, rec)
		next := newRecord(FamilyTrainingAnalysis, "user-1")
		next.Counters[Monthly] = Counter{Count: 4, LastReset: now}
		next.TotalRequests = 4
		next.FirstRequestAt = now
		next.LastRequestAt = now
		return next, nil
	})
	require.NoError(t, err)

	key := "quota:training_analysis:user-1"
	assert.Equal(t, "4", mr.HGet(key, "monthlyCount"))
	assert.Equal(t, "2026-10-15T10:00:00Z", mr.HGet(key, "lastMonthlyReset"))
	assert.Equal(t, "4", mr.HGet(key, "totalRequests"))
	assert.Equal(t, "0", mr.HGet(key, "quotaExceededCount"))
	assert.False(t, mr.Exists("quota:training_analysis:user-2"))

	rec, err := store.Get(ctx, FamilyTrainingAnalysis, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Counters[Monthly].Count)
	assert.True(t, rec.Counters[Monthly].LastReset.Equal(now))
	assert.NotContains(t, rec.Counters, Daily)
}

func TestRedisStore_NilResultSkipsWrite(t *testing.T) {
	store, _, mr := setupRedisStore(t, 3)

	err := store.Update(context.Background(), FamilyTrainingAnalysis, "user-1", func(*Record) (*Record, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("quota:training_analysis:user-1"))
}

func TestRedisStore_RetriesThenGivesUp(t *testing.T) {
	store, rdb, _ := setupRedisStore(t, 3)
	ctx := context.Background()
	key := recordKey(FamilyProgrammeParse, "user-1")

	calls := 0
	err := store.Update(ctx, FamilyProgrammeParse, "user-1", func(rec *Record) (*Record, error) {
		calls++
		// Another writer touches the watched key before EXEC.
		require.NoError(t, rdb.HSet(ctx, key, "totalRequests", calls).Err())
		return newRecord(FamilyProgrammeParse, "user-1"), nil
	})

	assert.ErrorIs(t, err, ErrTxConflict)
	assert.Equal(t, 3, calls)
}

func TestRedisStore_RetrySeesConcurrentWrite(t *testing.T) {
	store, rdb, _ := setupRedisStore(t, 5)
	ctx := context.Background()
	key := recordKey(FamilyProgrammeParse, "user-1")

	var seen []int64
	err := store.Update(ctx, FamilyProgrammeParse, "user-1", func(rec *Record) (*Record, error) {
		if rec == nil {
			seen = append(seen, -1)
			require.NoError(t, rdb.HSet(ctx, key, "totalRequests", 7).Err())
			return newRecord(FamilyProgrammeParse, "user-1"), nil
		}
		seen = append(seen, rec.TotalRequests)
		next := rec.clone()
		next.TotalRequests++
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 7}, seen)

	rec, err := store.Get(ctx, FamilyProgrammeParse, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.TotalRequests)
}

func TestRedisStore_CorruptFieldIsAnError(t *testing.T) {
	store, _, mr := setupRedisStore(t, 3)
	mr.HSet("quota:programme_parse:user-1", "dailyCount", "lots")

	_, err := store.Get(context.Background(), FamilyProgrammeParse, "user-1")
	assert.Error(t, err)
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	store, _, mr := setupRedisStore(t, 3)
	mr.Close()

	err := store.Update(context.Background(), FamilyProgrammeParse, "user-1", func(*Record) (*Record, error) {
		t.Fatal("update func must not run without a connection")
		return nil, nil
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxConflict)
}
