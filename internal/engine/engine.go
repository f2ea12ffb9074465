// Package engine executes one cascading user deletion as a single
// transaction, walking the resolver order so no statement ever violates a
// foreign key.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/graph"
	"github.com/finagg/retention/internal/model"
	"github.com/finagg/retention/internal/repository/postgres"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Engine is the cascading deletion executor. One instance is shared by the
// scheduler and the operator CLI; all state lives in the store.
type Engine struct {
	pool           postgres.PgxPool
	resolver       *graph.Resolver
	deletionPeriod time.Duration
	log            *zap.Logger
}

// New constructs the engine.
func New(pool postgres.PgxPool, resolver *graph.Resolver, deletionPeriod time.Duration, log *zap.Logger) *Engine {
	return &Engine{pool: pool, resolver: resolver, deletionPeriod: deletionPeriod, log: log}
}

const (
	eligibilitySQL = `SELECT marked_for_deletion_at FROM users WHERE id=$1 FOR UPDATE`
	clientIDsSQL   = `SELECT id FROM clients WHERE user_id=$1`
	ledgerSQL      = `INSERT INTO retention_log (action, user_id, details) VALUES ($1, $2, $3)`

	savepoint         = `SAVEPOINT retention_step`
	rollbackSavepoint = `ROLLBACK TO SAVEPOINT retention_step`
	releaseSavepoint  = `RELEASE SAVEPOINT retention_step`
)

// DeleteUser removes every record of one user in resolver order within a
// single transaction. Failures on non-critical kinds are rolled back to a
// savepoint and accumulated as warnings; a failure on a critical kind aborts
// and rolls back everything. An already-absent user is a satisfied no-op.
// Returns errs.ErrNotEligible when the in-transaction re-check finds the
// grace deadline not elapsed (e.g. a concurrent cancellation).
func (e *Engine) DeleteUser(ctx context.Context, userID uuid.UUID) (res *model.DeletionResult, err error) {
	start := time.Now()

	steps, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", userID, err)
	}
	if len(steps) == 0 {
		return &model.DeletionResult{UserID: userID, Deleted: map[string]int64{}}, nil
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			res = nil
			err = &errs.CriticalDeletionError{UserID: userID, Kind: "commit", Err: cerr}
		}
	}()

	// Re-check under row lock: the candidate may have been cancelled between
	// selection and now, and nothing is ever deleted outside an elapsed grace
	// period.
	var markedAt *time.Time
	if scanErr := tx.QueryRow(ctx, eligibilitySQL, userID).Scan(&markedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return &model.DeletionResult{UserID: userID, Deleted: map[string]int64{}}, nil
		}
		err = scanErr
		return nil, err
	}
	if markedAt == nil || time.Now().Before(markedAt.Add(e.deletionPeriod)) {
		err = errs.ErrNotEligible
		return nil, err
	}

	// Client ids are recorded before their rows disappear so later audits can
	// still verify transitively owned data.
	clientIDs, err := e.collectClientIDs(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	res = &model.DeletionResult{
		UserID:     userID,
		Deleted:    make(map[string]int64, len(steps)),
		Anonymized: make(map[string]int64, 1),
	}

	for _, step := range steps {
		args := []any{userID}
		if step.Disposition == graph.AnonymizeOnly {
			args = append(args, model.SystemActor)
		}

		if step.Critical {
			tag, execErr := tx.Exec(ctx, step.Statement, args...)
			if execErr != nil {
				res = nil
				err = &errs.CriticalDeletionError{UserID: userID, Kind: step.Kind, Err: execErr}
				return nil, err
			}
			res.Deleted[step.Kind] = tag.RowsAffected()
			continue
		}

		if _, err = tx.Exec(ctx, savepoint); err != nil {
			res = nil
			err = &errs.CriticalDeletionError{UserID: userID, Kind: step.Kind, Err: err}
			return nil, err
		}
		tag, execErr := tx.Exec(ctx, step.Statement, args...)
		if execErr != nil {
			if _, rbErr := tx.Exec(ctx, rollbackSavepoint); rbErr != nil {
				res = nil
				err = &errs.CriticalDeletionError{UserID: userID, Kind: step.Kind, Err: rbErr}
				return nil, err
			}
			res.Warnings = append(res.Warnings, model.Warning{Kind: step.Kind, Err: execErr.Error()})
			e.log.Warn("non-critical deletion step failed",
				zap.String("user_id", userID.String()),
				zap.String("kind", step.Kind),
				zap.Error(execErr),
			)
			continue
		}
		if _, err = tx.Exec(ctx, releaseSavepoint); err != nil {
			res = nil
			err = &errs.CriticalDeletionError{UserID: userID, Kind: step.Kind, Err: err}
			return nil, err
		}
		if step.Disposition == graph.AnonymizeOnly {
			res.Anonymized[step.Kind] = tag.RowsAffected()
		} else {
			res.Deleted[step.Kind] = tag.RowsAffected()
		}
	}

	res.Duration = time.Since(start)
	details, err := json.Marshal(map[string]any{
		"deleted":     res.Deleted,
		"anonymized":  res.Anonymized,
		"warnings":    res.Warnings,
		"client_ids":  clientIDs,
		"duration_ms": res.Duration.Milliseconds(),
	})
	if err != nil {
		res = nil
		return nil, err
	}
	if _, err = tx.Exec(ctx, ledgerSQL, model.ActionAccountDeleted, userID, details); err != nil {
		res = nil
		err = &errs.CriticalDeletionError{UserID: userID, Kind: "retention_log", Err: err}
		return nil, err
	}
	return res, nil
}

func (e *Engine) collectClientIDs(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, clientIDsSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}
