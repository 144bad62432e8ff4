package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(t *testing.T, ticket string) *domain.Run {
	t.Helper()
	run, err := domain.NewRun(ticket)
	require.NoError(t, err)
	return run
}

func TestRunStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	run := newRun(t, "PROJ-1")

	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "PROJ-1", got.TicketKey)
	assert.Equal(t, domain.RunStatusCreated, got.Status)

	// Mutating the returned copy must not affect the registry.
	got.TicketKey = "HACKED"
	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", again.TicketKey)
}

func TestRunStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	run := newRun(t, "PROJ-1")

	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), store.ErrDuplicateRun)
}

func TestRunStore_GetUnknown(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestRunStore_TransitionRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("created to running records dispatch details", func(t *testing.T) {
		t.Parallel()

		s := New()
		run := newRun(t, "PROJ-1")
		require.NoError(t, s.CreateRun(ctx, run))

		got, applied, err := s.TransitionRun(ctx, run.ID, store.Transition{
			Status:        domain.RunStatusRunning,
			ProviderRunID: "run_abc123",
			AttemptCount:  2,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.RunStatusRunning, got.Status)
		assert.Equal(t, "run_abc123", got.ProviderRunID)
		assert.Equal(t, 2, got.AttemptCount)
		assert.False(t, got.UsedFallback)
	})

	t.Run("identical terminal transition is idempotent", func(t *testing.T) {
		t.Parallel()

		s := New()
		run := newRun(t, "PROJ-1")
		require.NoError(t, s.CreateRun(ctx, run))
		_, _, err := s.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
		require.NoError(t, err)

		result := &domain.RunResult{PRURL: "https://github.com/o/r/pull/42", PRNumber: 42}

		got, applied, err := s.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: result,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		require.NotNil(t, got.Result)
		assert.Equal(t, 42, got.Result.PRNumber)

		// Second delivery of the same outcome succeeds without applying.
		got, applied, err = s.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: result,
		})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
	})

	t.Run("conflicting terminal transition rejected", func(t *testing.T) {
		t.Parallel()

		s := New()
		run := newRun(t, "PROJ-1")
		require.NoError(t, s.CreateRun(ctx, run))
		_, _, err := s.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
		require.NoError(t, err)
		_, _, err = s.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusCompleted,
			Result: &domain.RunResult{PRURL: "https://github.com/o/r/pull/42"},
		})
		require.NoError(t, err)

		_, _, err = s.TransitionRun(ctx, run.ID, store.Transition{
			Status:  domain.RunStatusFailed,
			Failure: &domain.RunFailure{Message: "late failure"},
		})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		// The stored status is untouched.
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.Nil(t, got.Failure)
	})

	t.Run("backwards transition rejected", func(t *testing.T) {
		t.Parallel()

		s := New()
		run := newRun(t, "PROJ-1")
		require.NoError(t, s.CreateRun(ctx, run))
		_, _, err := s.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
		require.NoError(t, err)

		_, _, err = s.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusCreated})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("unknown run", func(t *testing.T) {
		t.Parallel()

		s := New()
		_, _, err := s.TransitionRun(ctx, uuid.New(), store.Transition{
			Status: domain.RunStatusRunning,
		})
		assert.ErrorIs(t, err, store.ErrRunNotFound)
	})
}

func TestRunStore_ConcurrentTransitions(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	run := newRun(t, "PROJ-1")
	require.NoError(t, s.CreateRun(ctx, run))
	_, _, err := s.TransitionRun(ctx, run.ID, store.Transition{Status: domain.RunStatusRunning})
	require.NoError(t, err)

	// Race completed against failed; exactly one terminal outcome must win
	// and the loser must get ErrInvalidTransition (or be the idempotent
	// duplicate of the winner).
	var wg sync.WaitGroup
	var completeApplied, failApplied int
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, applied, err := s.TransitionRun(ctx, run.ID, store.Transition{
				Status: domain.RunStatusCompleted,
				Result: &domain.RunResult{PRURL: "https://github.com/o/r/pull/1"},
			})
			if err == nil && applied {
				mu.Lock()
				completeApplied++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, applied, err := s.TransitionRun(ctx, run.ID, store.Transition{
				Status:  domain.RunStatusFailed,
				Failure: &domain.RunFailure{Message: "boom"},
			})
			if err == nil && applied {
				mu.Lock()
				failApplied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completeApplied+failApplied,
		"exactly one terminal transition may be applied")

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
}

func TestRunStore_FindActiveRunByTicket(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	older := newRun(t, "PROJ-7")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.CreateRun(ctx, older))

	newer := newRun(t, "PROJ-7")
	require.NoError(t, s.CreateRun(ctx, newer))

	done := newRun(t, "PROJ-8")
	require.NoError(t, s.CreateRun(ctx, done))
	_, _, err := s.TransitionRun(ctx, done.ID, store.Transition{
		Status:  domain.RunStatusFailed,
		Failure: &domain.RunFailure{Message: "boom"},
	})
	require.NoError(t, err)

	got, err := s.FindActiveRunByTicket(ctx, "PROJ-7")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// Terminal runs are not active.
	_, err = s.FindActiveRunByTicket(ctx, "PROJ-8")
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	_, err = s.FindActiveRunByTicket(ctx, "PROJ-9")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestRunStore_ListRunsInStatus(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	fresh := newRun(t, "PROJ-1")
	require.NoError(t, s.CreateRun(ctx, fresh))

	stale := newRun(t, "PROJ-2")
	require.NoError(t, s.CreateRun(ctx, stale))

	runs, err := s.ListRunsInStatus(ctx, domain.RunStatusCreated, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	// An olderThan window in the future excludes everything just created.
	runs, err = s.ListRunsInStatus(ctx, domain.RunStatusCreated, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, runs)

	runs, err = s.ListRunsInStatus(ctx, domain.RunStatusRunning, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
