package repository

import (
	"context"
	"time"
)

// TokenCutoffs are the horizons for one token expiry sweep.
type TokenCutoffs struct {
	Access  time.Time // expired access tokens older than this
	Refresh time.Time // expired refresh tokens older than this
	Revoked time.Time // revoked tokens revoked before this
}

// RecordCutoffs are the independent-aging horizons for derived records.
type RecordCutoffs struct {
	Transactions time.Time
	Insights     time.Time
	QueryHistory time.Time
}

// SweepRepository performs the simple idempotent bulk expiries that need no
// cross-statement consistency.
type SweepRepository interface {
	// DeleteExpiredTokens removes tokens past their horizons and returns
	// per-category counts (access, refresh, revoked).
	DeleteExpiredTokens(ctx context.Context, c TokenCutoffs) (map[string]int64, error)

	// DeleteStaleRecords removes derived records past their own age horizons,
	// regardless of owner lifecycle. Returns per-kind counts.
	DeleteStaleRecords(ctx context.Context, c RecordCutoffs) (map[string]int64, error)
}
