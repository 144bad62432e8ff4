package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/postgres"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/antoleandarius/copilot-fix-bridge/internal/testdb"
)

// These tests require a real database and skip when DATABASE_URL is not
// set. The in-memory registry shares the transition rules through
// store.ValidateTransition, so the rule matrix itself is covered by the
// memstore tests; this file focuses on SQL-level behavior.

func newRun(t *testing.T, runs *postgres.PostgresRunStore, ticketKey string) *domain.Run {
	t.Helper()
	run, err := domain.NewRun(ticketKey)
	require.NoError(t, err)
	require.NoError(t, runs.CreateRun(context.Background(), run))
	return run
}

func TestPostgresRunStore_CreateAndGet(t *testing.T) {
	db := testdb.New(t)
	runs := postgres.NewPostgresRunStore(db)
	ctx := context.Background()

	run := newRun(t, runs, "TICK-1")

	got, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "TICK-1", got.TicketKey)
	assert.Equal(t, domain.RunStatusCreated, got.Status)
	assert.Nil(t, got.Result)

	t.Run("duplicate insert is rejected", func(t *testing.T) {
		err := runs.CreateRun(ctx, run)
		assert.ErrorIs(t, err, store.ErrDuplicateRun)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := runs.GetRun(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrRunNotFound)
	})
}

func TestPostgresRunStore_TransitionRun(t *testing.T) {
	db := testdb.New(t)
	runs := postgres.NewPostgresRunStore(db)
	ctx := context.Background()

	t.Run("full lifecycle", func(t *testing.T) {
		run := newRun(t, runs, "TICK-10")

		running, applied, err := runs.TransitionRun(ctx, run.ID, store.Transition{
			Status:        domain.RunStatusRunning,
			ProviderRunID: "run_abc123",
			AttemptCount:  2,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, "run_abc123", running.ProviderRunID)
		assert.Equal(t, 2, running.AttemptCount)

		done, applied, err := runs.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: &domain.RunResult{
				PRURL:    "https://github.com/acme/widgets/pull/7",
				PRNumber: 7,
				Files:    []string{"checkout.go"},
			},
		})
		require.NoError(t, err)
		assert.True(t, applied)
		require.NotNil(t, done.Result)
		assert.Equal(t, 7, done.Result.PRNumber)
		assert.Equal(t, "run_abc123", done.ProviderRunID, "transition keeps earlier fields")
	})

	t.Run("idempotent terminal repeat", func(t *testing.T) {
		run := newRun(t, runs, "TICK-11")
		_, _, err := runs.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
		require.NoError(t, err)
		_, _, err = runs.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: &domain.RunResult{PRURL: "https://github.com/acme/widgets/pull/8"},
		})
		require.NoError(t, err)

		repeat, applied, err := runs.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: &domain.RunResult{PRURL: "https://github.com/acme/widgets/pull/8"},
		})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, "https://github.com/acme/widgets/pull/8", repeat.Result.PRURL)
	})

	t.Run("conflicting terminal is rejected", func(t *testing.T) {
		run := newRun(t, runs, "TICK-12")
		_, _, err := runs.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
		require.NoError(t, err)
		_, _, err = runs.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusCancelled})
		require.NoError(t, err)

		_, _, err = runs.TransitionRun(ctx, run.ID, store.Transition{
			Status:  domain.RunStatusFailed,
			Failure: &domain.RunFailure{Message: "late report"},
		})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, _, err := runs.TransitionRun(ctx, uuid.New(), store.Transition{Status: domain.RunStatusRunning})
		assert.ErrorIs(t, err, store.ErrRunNotFound)
	})
}

func TestPostgresRunStore_FindActiveRunByTicket(t *testing.T) {
	db := testdb.New(t)
	runs := postgres.NewPostgresRunStore(db)
	ctx := context.Background()

	older := newRun(t, runs, "TICK-20")
	_, _, err := runs.TransitionRun(ctx, older.ID, store.Transition{Status: domain.RunStatusRunning})
	require.NoError(t, err)
	_, _, err = runs.TransitionRun(ctx, older.ID, store.Transition{
		Status:  domain.RunStatusFailed,
		Failure: &domain.RunFailure{Message: "first try failed"},
	})
	require.NoError(t, err)

	active := newRun(t, runs, "TICK-20")

	got, err := runs.FindActiveRunByTicket(ctx, "TICK-20")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID, "terminal runs are not active")

	_, err = runs.FindActiveRunByTicket(ctx, "TICK-21")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestPostgresRunStore_ListRunsInStatus(t *testing.T) {
	db := testdb.New(t)
	runs := postgres.NewPostgresRunStore(db)
	ctx := context.Background()

	created := newRun(t, runs, "TICK-30")
	running := newRun(t, runs, "TICK-31")
	_, _, err := runs.TransitionRun(ctx, running.ID, store.Transition{Status: domain.RunStatusRunning})
	require.NoError(t, err)

	inCreated, err := runs.ListRunsInStatus(ctx, domain.RunStatusCreated, 0)
	require.NoError(t, err)
	require.Len(t, inCreated, 1)
	assert.Equal(t, created.ID, inCreated[0].ID)

	t.Run("age filter excludes fresh rows", func(t *testing.T) {
		stale, err := runs.ListRunsInStatus(ctx, domain.RunStatusCreated, time.Hour)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}
