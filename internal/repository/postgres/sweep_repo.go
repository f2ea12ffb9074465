package postgres

import (
	"context"

	"github.com/finagg/retention/internal/repository"
)

// SweepRepo implements SweepRepository using PostgreSQL. Every statement here
// is a plain idempotent bulk delete: re-running with the same cutoffs matches
// zero rows.
type SweepRepo struct{ db *DB }

// NewSweepRepo constructs a sweep repository.
func NewSweepRepo(db *DB) *SweepRepo { return &SweepRepo{db: db} }

// DeleteExpiredTokens removes tokens past their horizons, one category at a
// time so the counts can be reported separately.
func (r *SweepRepo) DeleteExpiredTokens(ctx context.Context, c repository.TokenCutoffs) (map[string]int64, error) {
	counts := make(map[string]int64, 3)

	const delAccess = `DELETE FROM tokens WHERE kind='access' AND is_revoked=false AND expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, delAccess, c.Access)
	if err != nil {
		return nil, err
	}
	counts["access"] = tag.RowsAffected()

	const delRefresh = `DELETE FROM tokens WHERE kind='refresh' AND is_revoked=false AND expires_at < $1`
	if tag, err = r.db.Pool.Exec(ctx, delRefresh, c.Refresh); err != nil {
		return nil, err
	}
	counts["refresh"] = tag.RowsAffected()

	const delRevoked = `DELETE FROM tokens WHERE is_revoked=true AND revoked_at < $1`
	if tag, err = r.db.Pool.Exec(ctx, delRevoked, c.Revoked); err != nil {
		return nil, err
	}
	counts["revoked"] = tag.RowsAffected()

	return counts, nil
}

// DeleteStaleRecords ages out derived records independently of their owner's
// lifecycle.
func (r *SweepRepo) DeleteStaleRecords(ctx context.Context, c repository.RecordCutoffs) (map[string]int64, error) {
	counts := make(map[string]int64, 3)

	const delTx = `DELETE FROM transactions WHERE booked_at < $1`
	tag, err := r.db.Pool.Exec(ctx, delTx, c.Transactions)
	if err != nil {
		return nil, err
	}
	counts["transactions"] = tag.RowsAffected()

	const delInsights = `DELETE FROM insight_metrics WHERE computed_at < $1`
	if tag, err = r.db.Pool.Exec(ctx, delInsights, c.Insights); err != nil {
		return nil, err
	}
	counts["insight_metrics"] = tag.RowsAffected()

	const delQueries = `DELETE FROM query_history WHERE queried_at < $1`
	if tag, err = r.db.Pool.Exec(ctx, delQueries, c.QueryHistory); err != nil {
		return nil, err
	}
	counts["query_history"] = tag.RowsAffected()

	return counts, nil
}
