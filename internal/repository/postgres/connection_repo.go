package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ConnectionRepo implements ConnectionRepository using PostgreSQL.
type ConnectionRepo struct{ db *DB }

// NewConnectionRepo constructs a connection repository.
func NewConnectionRepo(db *DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

// Disconnect overwrites the provider secret and stamps the disconnect time.
// The old ciphertext is gone after this statement, not merely flagged.
func (r *ConnectionRepo) Disconnect(ctx context.Context, userID, connID uuid.UUID, neutralized []byte, at time.Time) error {
	const q = `
UPDATE external_connections
SET status='disconnected', disconnected_at=$3, secret_enc=$4
WHERE id=$2 AND user_id=$1 AND status='active'`
	tag, err := r.db.Pool.Exec(ctx, q, userID, connID, at, neutralized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ExpiredDisconnected selects connections disconnected before cutoff.
func (r *ConnectionRepo) ExpiredDisconnected(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id FROM external_connections
WHERE status='disconnected' AND disconnected_at < $1
ORDER BY disconnected_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Purge hard-deletes a disconnected connection with its dependent rows in FK
// order, one transaction per connection so failures stay isolated.
func (r *ConnectionRepo) Purge(ctx context.Context, connID uuid.UUID) (counts map[string]int64, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT user_id FROM external_connections WHERE id=$1 AND status='disconnected' FOR UPDATE`
	var userID uuid.UUID
	if err = tx.QueryRow(ctx, sel, connID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	counts = make(map[string]int64, 3)

	const delTx = `
DELETE FROM transactions WHERE account_id IN (SELECT id FROM accounts WHERE connection_id=$1)`
	tag, err := tx.Exec(ctx, delTx, connID)
	if err != nil {
		return nil, err
	}
	counts["transactions"] = tag.RowsAffected()

	const delAcc = `DELETE FROM accounts WHERE connection_id=$1`
	if tag, err = tx.Exec(ctx, delAcc, connID); err != nil {
		return nil, err
	}
	counts["accounts"] = tag.RowsAffected()

	const delConn = `DELETE FROM external_connections WHERE id=$1`
	if tag, err = tx.Exec(ctx, delConn, connID); err != nil {
		return nil, err
	}
	counts["external_connections"] = tag.RowsAffected()

	if err = appendLedger(ctx, tx, model.ActionConnectionPurged, &userID, map[string]any{
		"connection_id": connID.String(),
		"deleted":       counts,
	}); err != nil {
		return nil, err
	}
	return counts, nil
}
