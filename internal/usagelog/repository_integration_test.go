//go:build integration

package usagelog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liftlog/liftlog-api/internal/database"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "liftlog_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/liftlog_test?sslmode=disable", host, port.Port())

	if err := database.RunMigrations(dsn, "../../migrations"); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewRepository(pool)
}

func TestRepository_InsertAndList(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []string{"granted", "granted", "exceeded", "refunded"}
	for i, outcome := range outcomes {
		require.NoError(t, repo.Insert(ctx, &Event{
			UserID:    "user-1",
			Family:    "training_analysis",
			Outcome:   outcome,
			Remaining: map[string]int{"monthly": 10 - i},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repo.Insert(ctx, &Event{UserID: "user-2", Family: "programme_parse", Outcome: "granted", CreatedAt: base}))

	events, total, err := repo.ListByUser(ctx, "user-1", DefaultListParams())
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, events, 4)
	assert.Equal(t, "refunded", events[0].Outcome, "newest first")
	assert.Equal(t, map[string]int{"monthly": 7}, events[0].Remaining)

	params := DefaultListParams()
	params.Outcome = "granted"
	params.PageSize = 1
	events, total, err = repo.ListByUser(ctx, "user-1", params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, events, 1)

	from := base.Add(90 * time.Minute)
	params = DefaultListParams()
	params.From = &from
	_, total, err = repo.ListByUser(ctx, "user-1", params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestRepository_InsertIsIdempotent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	e := &Event{ID: uuid.New(), UserID: "user-1", Family: "voice_transcription", Outcome: "granted", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Insert(ctx, e))
	require.NoError(t, repo.Insert(ctx, e))

	_, total, err := repo.ListByUser(ctx, "user-1", DefaultListParams())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
