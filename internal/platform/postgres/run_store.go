package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// PostgresRunStore implements the store.RunStore interface using PostgreSQL.
// Transitions are applied with a compare-and-swap on the current status so
// concurrent writers cannot skip the forward-only rules.
type PostgresRunStore struct {
	db store.DBTX
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db store.DBTX) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

var _ store.RunStore = (*PostgresRunStore)(nil)

const runColumns = `id, ticket_key, status, provider_run_id, attempt_count,
	used_fallback, result, failure, created_at, updated_at`

// CreateRun persists a new run record.
func (s *PostgresRunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO runs (id, ticket_key, status, provider_run_id, attempt_count,
			used_fallback, result, failure, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	result, failure, err := marshalOutcome(run.Result, run.Failure)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.TicketKey,
		string(run.Status),
		run.ProviderRunID,
		run.AttemptCount,
		run.UsedFallback,
		result,
		failure,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrDuplicateRun, err)
		}
		log.Error("failed to insert run",
			"run_id", run.ID,
			"ticket_key", run.TicketKey,
			"error", err)
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by its ID.
func (s *PostgresRunStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return s.scanRun(s.db.QueryRowContext(ctx, query, id))
}

// TransitionRun applies tr to the run, enforcing the forward-only rules.
// The UPDATE is keyed on the status the rules were checked against, so a
// concurrent transition invalidates the write instead of being overwritten;
// the loop then re-reads and re-checks against the new state.
func (s *PostgresRunStore) TransitionRun(
	ctx context.Context,
	id uuid.UUID,
	tr store.Transition,
) (*domain.Run, bool, error) {
	log := logger.FromContext(ctx)

	for {
		current, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, false, err
		}

		applies, err := store.ValidateTransition(current.Status, tr)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s -> %s",
				store.ErrInvalidTransition, current.Status, tr.Status)
		}
		if !applies {
			return current, false, nil
		}

		updated, err := s.applyTransition(ctx, current, tr)
		if err != nil {
			return nil, false, err
		}
		if updated != nil {
			return updated, true, nil
		}

		// Lost the race against a concurrent transition; re-check
		// against whatever state won.
		log.Debug("transition raced, retrying", "run_id", id, "to", tr.Status)
	}
}

// applyTransition writes the transition with a status-guarded UPDATE.
// A nil run with nil error means the guard failed and the caller should
// re-read.
func (s *PostgresRunStore) applyTransition(
	ctx context.Context,
	current *domain.Run,
	tr store.Transition,
) (*domain.Run, error) {
	query := `
		UPDATE runs
		SET status = $1,
			provider_run_id = COALESCE(NULLIF($2, ''), provider_run_id),
			attempt_count = GREATEST($3, attempt_count),
			used_fallback = used_fallback OR $4,
			result = COALESCE($5::jsonb, result),
			failure = COALESCE($6::jsonb, failure),
			updated_at = $7
		WHERE id = $8 AND status = $9
		RETURNING ` + runColumns

	result, failure, err := marshalOutcome(tr.Result, tr.Failure)
	if err != nil {
		return nil, err
	}

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query,
		string(tr.Status),
		tr.ProviderRunID,
		tr.AttemptCount,
		tr.UsedFallback,
		result,
		failure,
		time.Now().UTC(),
		current.ID,
		string(current.Status),
	))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// FindActiveRunByTicket returns the most recently created non-terminal
// run for the ticket key.
func (s *PostgresRunStore) FindActiveRunByTicket(
	ctx context.Context,
	ticketKey string,
) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ticket_key = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanRun(s.db.QueryRowContext(ctx, query,
		ticketKey,
		string(domain.RunStatusCreated),
		string(domain.RunStatusRunning),
	))
}

// ListRunsInStatus returns runs in the given status whose last update is
// older than olderThan (zero means all of them).
func (s *PostgresRunStore) ListRunsInStatus(
	ctx context.Context,
	status domain.RunStatus,
	olderThan time.Duration,
) ([]*domain.Run, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any
	if olderThan > 0 {
		query = `
			SELECT ` + runColumns + `
			FROM runs
			WHERE status = $1 AND updated_at < $2
			ORDER BY created_at ASC
		`
		args = []any{string(status), time.Now().UTC().Add(-olderThan)}
	} else {
		query = `
			SELECT ` + runColumns + `
			FROM runs
			WHERE status = $1
			ORDER BY created_at ASC
		`
		args = []any{string(status)}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query runs by status", "status", status, "error", err)
		return nil, fmt.Errorf("failed to query runs by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRunFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresRunStore) scanRun(row rowScanner) (*domain.Run, error) {
	run, err := scanRunFields(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func scanRunFields(scan func(dest ...any) error) (*domain.Run, error) {
	var (
		run           domain.Run
		status        string
		providerRunID sql.NullString
		resultJSON    []byte
		failureJSON   []byte
	)

	err := scan(
		&run.ID,
		&run.TicketKey,
		&status,
		&providerRunID,
		&run.AttemptCount,
		&run.UsedFallback,
		&resultJSON,
		&failureJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.ProviderRunID = providerRunID.String
	if len(resultJSON) > 0 {
		run.Result = &domain.RunResult{}
		if err := json.Unmarshal(resultJSON, run.Result); err != nil {
			return nil, fmt.Errorf("failed to decode run result: %w", err)
		}
	}
	if len(failureJSON) > 0 {
		run.Failure = &domain.RunFailure{}
		if err := json.Unmarshal(failureJSON, run.Failure); err != nil {
			return nil, fmt.Errorf("failed to decode run failure: %w", err)
		}
	}
	return &run, nil
}

// marshalOutcome encodes the terminal outcome columns. A nil outcome is
// stored as SQL NULL so COALESCE in the transition UPDATE leaves the
// existing value in place.
func marshalOutcome(result *domain.RunResult, failure *domain.RunFailure) ([]byte, []byte, error) {
	var resultJSON, failureJSON []byte
	var err error
	if result != nil {
		if resultJSON, err = json.Marshal(result); err != nil {
			return nil, nil, fmt.Errorf("failed to encode run result: %w", err)
		}
	}
	if failure != nil {
		if failureJSON, err = json.Marshal(failure); err != nil {
			return nil, nil, fmt.Errorf("failed to encode run failure: %w", err)
		}
	}
	return resultJSON, failureJSON, nil
}
