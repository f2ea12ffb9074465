package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RetentionLogRepo implements RetentionLogRepository using PostgreSQL.
type RetentionLogRepo struct{ db *DB }

// NewRetentionLogRepo constructs a ledger repository.
func NewRetentionLogRepo(db *DB) *RetentionLogRepo { return &RetentionLogRepo{db: db} }

// Append writes one ledger row outside any caller transaction.
func (r *RetentionLogRepo) Append(ctx context.Context, e model.RetentionLogEntry) error {
	var details any = json.RawMessage(e.Details)
	if len(e.Details) == 0 {
		details = map[string]any{}
	}
	return appendLedger(ctx, r.db.Pool, e.Action, e.UserID, details)
}

// LastDeletion returns the most recent account_deleted entry for the user.
func (r *RetentionLogRepo) LastDeletion(ctx context.Context, userID uuid.UUID) (*model.RetentionLogEntry, error) {
	const q = `
SELECT id, action, user_id, details, created_at
FROM retention_log
WHERE user_id=$1 AND action=$2
ORDER BY created_at DESC
LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q, userID, model.ActionAccountDeleted)
	var e model.RetentionLogEntry
	if err := row.Scan(&e.ID, &e.Action, &e.UserID, &e.Details, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
