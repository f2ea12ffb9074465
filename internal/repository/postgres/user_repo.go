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

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Get selects a user by ID.
func (r *UserRepo) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, email, status, last_login_at, inactivity_warning_at, marked_for_deletion_at, created_at
FROM users WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Status, &u.LastLoginAt, &u.InactivityWarningAt, &u.MarkedForDeletionAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Exists reports whether the user row is present.
func (r *UserRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// WarningCandidates selects active, unwarned users last seen before cutoff.
func (r *UserRepo) WarningCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.User, error) {
	const q = `
SELECT id, email, status, last_login_at, inactivity_warning_at, marked_for_deletion_at, created_at
FROM users
WHERE status='active' AND inactivity_warning_at IS NULL AND marked_for_deletion_at IS NULL
  AND last_login_at < $1
ORDER BY last_login_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Status, &u.LastLoginAt, &u.InactivityWarningAt, &u.MarkedForDeletionAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkWarned stamps the warning date only on active, unwarned users, so
// re-warning is a no-op.
func (r *UserRepo) MarkWarned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `
UPDATE users SET inactivity_warning_at=$2
WHERE id=$1 AND status='active' AND inactivity_warning_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkingCandidates selects warned users last seen before cutoff and not yet
// marked for deletion.
func (r *UserRepo) MarkingCandidates(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id FROM users
WHERE status='active' AND inactivity_warning_at IS NOT NULL AND marked_for_deletion_at IS NULL
  AND last_login_at < $1
ORDER BY last_login_at ASC
LIMIT $2`
	return r.selectIDs(ctx, q, cutoff, limit)
}

// MarkForDeletion opens the grace period for an inactive user.
func (r *UserRepo) MarkForDeletion(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `
UPDATE users SET status='inactive', marked_for_deletion_at=$2
WHERE id=$1 AND status='active' AND marked_for_deletion_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeletionCandidates selects users whose grace deadline had elapsed as of the
// sweep start. cutoff = sweep start - deletion period.
func (r *UserRepo) DeletionCandidates(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id FROM users
WHERE status IN ('inactive','revoked') AND marked_for_deletion_at IS NOT NULL
  AND marked_for_deletion_at <= $1
ORDER BY marked_for_deletion_at ASC
LIMIT $2`
	return r.selectIDs(ctx, q, cutoff, limit)
}

func (r *UserRepo) selectIDs(ctx context.Context, q string, cutoff time.Time, limit int) ([]uuid.UUID, error) {
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

// CloseAccount revokes all tokens and clients and marks the user for deletion
// in one transaction, with the ledger entry committed atomically.
func (r *UserRepo) CloseAccount(ctx context.Context, id uuid.UUID, now, scheduledAt time.Time) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	const sel = `SELECT status FROM users WHERE id=$1 FOR UPDATE`
	var status string
	if err = tx.QueryRow(ctx, sel, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	if status != model.UserStatusActive {
		return errs.ErrNotEligible
	}

	const revokeTokens = `
UPDATE tokens SET is_revoked=true, revoked_at=$2 WHERE user_id=$1 AND is_revoked=false`
	if _, err = tx.Exec(ctx, revokeTokens, id, now); err != nil {
		return err
	}

	// Clients active at closure time get a reversible reason; pending ones do
	// not come back on cancellation.
	const revokeActive = `
UPDATE clients SET status='revoked', revoked_reason=$2 WHERE user_id=$1 AND status='active'`
	if _, err = tx.Exec(ctx, revokeActive, id, model.ReasonAccountClosure); err != nil {
		return err
	}
	const revokePending = `
UPDATE clients SET status='revoked', revoked_reason=$2 WHERE user_id=$1 AND status='pending'`
	if _, err = tx.Exec(ctx, revokePending, id, model.ReasonAccountClosurePending); err != nil {
		return err
	}

	const mark = `
UPDATE users SET status='inactive', marked_for_deletion_at=$2, inactivity_warning_at=NULL WHERE id=$1`
	if _, err = tx.Exec(ctx, mark, id, now); err != nil {
		return err
	}

	return appendLedger(ctx, tx, model.ActionAccountClosure, &id, map[string]any{
		"scheduled_deletion_at": scheduledAt,
	})
}

// CancelDeletion flips a marked user back to active. The deadline is checked
// under the same row lock that guards the status flip, so a concurrent
// deletion sweep cannot interleave.
func (r *UserRepo) CancelDeletion(ctx context.Context, id uuid.UUID, now time.Time, period time.Duration) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	const sel = `SELECT marked_for_deletion_at FROM users WHERE id=$1 FOR UPDATE`
	var markedAt *time.Time
	if err = tx.QueryRow(ctx, sel, id).Scan(&markedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	if markedAt == nil {
		return errs.ErrNotFound
	}
	if now.After(markedAt.Add(period)) {
		return errs.ErrExpiredGracePeriod
	}

	const reactivate = `
UPDATE users SET status='active', marked_for_deletion_at=NULL, inactivity_warning_at=NULL WHERE id=$1`
	if _, err = tx.Exec(ctx, reactivate, id); err != nil {
		return err
	}

	// Only clients revoked by this closure come back; admin-revoked and
	// formerly pending ones stay revoked.
	const restoreClients = `
UPDATE clients SET status='active', revoked_reason=NULL WHERE user_id=$1 AND revoked_reason=$2`
	if _, err = tx.Exec(ctx, restoreClients, id, model.ReasonAccountClosure); err != nil {
		return err
	}

	return appendLedger(ctx, tx, model.ActionDeletionCancelled, &id, map[string]any{
		"cancelled_at": now,
	})
}
