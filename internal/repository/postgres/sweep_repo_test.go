package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/finagg/retention/internal/repository"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestSweepRepo_DeleteExpiredTokens(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSweepRepo(db)
	ctx := context.Background()
	now := time.Now()
	c := repository.TokenCutoffs{
		Access:  now.Add(-30 * 24 * time.Hour),
		Refresh: now.Add(-90 * 24 * time.Hour),
		Revoked: now.Add(-7 * 24 * time.Hour),
	}

	mock.ExpectExec(`DELETE FROM tokens WHERE kind='access' AND is_revoked=false AND expires_at < \$1`).
		WithArgs(c.Access).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`DELETE FROM tokens WHERE kind='refresh' AND is_revoked=false AND expires_at < \$1`).
		WithArgs(c.Refresh).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM tokens WHERE is_revoked=true AND revoked_at < \$1`).
		WithArgs(c.Revoked).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	counts, err := r.DeleteExpiredTokens(ctx, c)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"access": 5, "refresh": 2, "revoked": 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepRepo_DeleteStaleRecords(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSweepRepo(db)
	ctx := context.Background()
	now := time.Now()
	c := repository.RecordCutoffs{
		Transactions: now.AddDate(-7, 0, 0),
		Insights:     now.AddDate(-2, 0, 0),
		QueryHistory: now.AddDate(-1, 0, 0),
	}

	mock.ExpectExec(`DELETE FROM transactions WHERE booked_at < \$1`).
		WithArgs(c.Transactions).
		WillReturnResult(pgxmock.NewResult("DELETE", 100))
	mock.ExpectExec(`DELETE FROM insight_metrics WHERE computed_at < \$1`).
		WithArgs(c.Insights).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`DELETE FROM query_history WHERE queried_at < \$1`).
		WithArgs(c.QueryHistory).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	counts, err := r.DeleteStaleRecords(ctx, c)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"transactions": 100, "insight_metrics": 7, "query_history": 0}, counts)
}
