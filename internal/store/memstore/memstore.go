// Package memstore provides the in-memory run registry. Runs are held
// in a sharded map; each shard has its own lock, so transitions on
// different runs proceed without contention while transitions on the
// same run are serialized.
package memstore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/google/uuid"
)

const shardCount = 16

type shard struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.Run
}

// RunStore is an in-memory implementation of store.RunStore. State
// lives for the process lifetime only; durability across restarts is
// the postgres registry's job.
type RunStore struct {
	shards [shardCount]*shard
}

// New creates an empty in-memory run registry.
func New() *RunStore {
	s := &RunStore{}
	for i := range s.shards {
		s.shards[i] = &shard{runs: make(map[uuid.UUID]*domain.Run)}
	}
	return s
}

// shardFor picks the shard holding the given run ID.
func (s *RunStore) shardFor(id uuid.UUID) *shard {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return s.shards[h.Sum32()%shardCount]
}

// CreateRun adds a new run to the registry.
func (s *RunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	sh := s.shardFor(run.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.runs[run.ID]; exists {
		return store.ErrDuplicateRun
	}

	sh.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a copy of the run with the given ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	run, ok := sh.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}

	return cloneRun(run), nil
}

// TransitionRun applies tr under the run's shard lock, so concurrent
// transitions on the same run cannot race past the forward-only check.
func (s *RunStore) TransitionRun(
	ctx context.Context,
	id uuid.UUID,
	tr store.Transition,
) (*domain.Run, bool, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	run, ok := sh.runs[id]
	if !ok {
		return nil, false, store.ErrRunNotFound
	}

	apply, err := store.ValidateTransition(run.Status, tr)
	if err != nil {
		return nil, false, err
	}
	if !apply {
		return cloneRun(run), false, nil
	}

	run.Status = tr.Status
	run.Result = tr.Result
	run.Failure = tr.Failure
	if tr.ProviderRunID != "" {
		run.ProviderRunID = tr.ProviderRunID
	}
	if tr.AttemptCount > 0 {
		run.AttemptCount = tr.AttemptCount
	}
	if tr.UsedFallback {
		run.UsedFallback = true
	}
	run.UpdatedAt = time.Now().UTC()

	return cloneRun(run), true, nil
}

// FindActiveRunByTicket returns the most recently created non-terminal
// run for the ticket key.
func (s *RunStore) FindActiveRunByTicket(
	ctx context.Context,
	ticketKey string,
) (*domain.Run, error) {
	var latest *domain.Run

	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, run := range sh.runs {
			if run.TicketKey != ticketKey || run.Status.IsTerminal() {
				continue
			}
			if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
				latest = cloneRun(run)
			}
		}
		sh.mu.RUnlock()
	}

	if latest == nil {
		return nil, store.ErrRunNotFound
	}

	return latest, nil
}

// ListRunsInStatus returns runs in the given status last updated more
// than olderThan ago.
func (s *RunStore) ListRunsInStatus(
	ctx context.Context,
	status domain.RunStatus,
	olderThan time.Duration,
) ([]*domain.Run, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var runs []*domain.Run
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, run := range sh.runs {
			if run.Status != status {
				continue
			}
			if olderThan > 0 && run.UpdatedAt.After(cutoff) {
				continue
			}
			runs = append(runs, cloneRun(run))
		}
		sh.mu.RUnlock()
	}

	return runs, nil
}

// cloneRun copies a run so callers never share memory with the registry.
func cloneRun(run *domain.Run) *domain.Run {
	c := *run
	if run.Result != nil {
		r := *run.Result
		r.Files = append([]string(nil), run.Result.Files...)
		c.Result = &r
	}
	if run.Failure != nil {
		f := *run.Failure
		c.Failure = &f
	}
	return &c
}
