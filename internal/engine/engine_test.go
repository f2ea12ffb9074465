package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/graph"
	"github.com/finagg/retention/internal/model"
)

type staticChecker struct{ exists bool }

func (c staticChecker) Exists(context.Context, uuid.UUID) (bool, error) { return c.exists, nil }

const period = 30 * 24 * time.Hour

func newEngine(t *testing.T, exists bool) (*Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	resolver, err := graph.NewResolver(staticChecker{exists: exists}, graph.Manifest())
	require.NoError(t, err)
	return New(mock, resolver, period, zap.NewNop()), mock
}

func expectEligible(mock pgxmock.PgxPoolIface, userID uuid.UUID, clientID uuid.UUID) {
	markedAt := time.Now().Add(-period - time.Hour)
	mock.ExpectQuery(`SELECT marked_for_deletion_at FROM users WHERE id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"marked_for_deletion_at"}).AddRow(&markedAt))
	mock.ExpectQuery(`SELECT id FROM clients WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(clientID))
}

func expectNonCritical(mock pgxmock.PgxPoolIface, re string, n int64, args ...any) {
	mock.ExpectExec(`^SAVEPOINT retention_step`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(re).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("DELETE", n))
	mock.ExpectExec(`^RELEASE SAVEPOINT retention_step`).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
}

func TestDeleteUser_FullCascade(t *testing.T) {
	e, mock := newEngine(t, true)
	defer mock.Close()
	userID := uuid.Must(uuid.NewV4())
	clientID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	expectEligible(mock, userID, clientID)
	expectNonCritical(mock, `DELETE FROM transactions WHERE account_id IN`, 40, userID)
	expectNonCritical(mock, `DELETE FROM insight_metrics WHERE user_id = \$1`, 6, userID)
	expectNonCritical(mock, `DELETE FROM query_history WHERE client_id IN`, 15, userID)
	expectNonCritical(mock, `DELETE FROM accounts WHERE connection_id IN`, 4, userID)
	mock.ExpectExec(`DELETE FROM tokens WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM external_connections WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`DELETE FROM clients WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	expectNonCritical(mock, `UPDATE audit_log`, 3, userID, model.SystemActor)
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO retention_log`).
		WithArgs(model.ActionAccountDeleted, userID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := e.DeleteUser(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, userID, res.UserID)
	require.Empty(t, res.Warnings)
	require.Equal(t, int64(40), res.Deleted["transactions"])
	require.Equal(t, int64(5), res.Deleted["external_connections"])
	require.Equal(t, int64(2), res.Deleted["clients"])
	require.Equal(t, int64(1), res.Deleted["users"])
	// the three audit rows are preserved and anonymized, never counted as deleted
	require.NotContains(t, res.Deleted, "audit_log")
	require.Equal(t, int64(3), res.Anonymized["audit_log"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_NonCriticalFailureDegradesToWarning(t *testing.T) {
	e, mock := newEngine(t, true)
	defer mock.Close()
	userID := uuid.Must(uuid.NewV4())
	clientID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	expectEligible(mock, userID, clientID)

	// transactions step fails and is rolled back to the savepoint
	mock.ExpectExec(`^SAVEPOINT retention_step`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`DELETE FROM transactions WHERE account_id IN`).
		WithArgs(userID).
		WillReturnError(errors.New("statement timeout"))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT retention_step`).
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))

	expectNonCritical(mock, `DELETE FROM insight_metrics WHERE user_id = \$1`, 6, userID)
	expectNonCritical(mock, `DELETE FROM query_history WHERE client_id IN`, 15, userID)
	expectNonCritical(mock, `DELETE FROM accounts WHERE connection_id IN`, 4, userID)
	mock.ExpectExec(`DELETE FROM tokens WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM external_connections WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM clients WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectNonCritical(mock, `UPDATE audit_log`, 0, userID, model.SystemActor)
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO retention_log`).
		WithArgs(model.ActionAccountDeleted, userID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := e.DeleteUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "transactions", res.Warnings[0].Kind)
	// the cascade still completed: the user row is gone
	require.Equal(t, int64(1), res.Deleted["users"])
	require.NotContains(t, res.Deleted, "transactions")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_CriticalFailureAbortsEverything(t *testing.T) {
	e, mock := newEngine(t, true)
	defer mock.Close()
	userID := uuid.Must(uuid.NewV4())
	clientID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	expectEligible(mock, userID, clientID)
	expectNonCritical(mock, `DELETE FROM transactions WHERE account_id IN`, 40, userID)
	expectNonCritical(mock, `DELETE FROM insight_metrics WHERE user_id = \$1`, 6, userID)
	expectNonCritical(mock, `DELETE FROM query_history WHERE client_id IN`, 15, userID)
	expectNonCritical(mock, `DELETE FROM accounts WHERE connection_id IN`, 4, userID)
	mock.ExpectExec(`DELETE FROM tokens WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	res, err := e.DeleteUser(context.Background(), userID)
	require.Nil(t, res)
	var critical *errs.CriticalDeletionError
	require.ErrorAs(t, err, &critical)
	require.Equal(t, "tokens", critical.Kind)
	require.Equal(t, userID, critical.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_NotEligibleUnderLock(t *testing.T) {
	e, mock := newEngine(t, true)
	defer mock.Close()
	userID := uuid.Must(uuid.NewV4())

	// cancelled between candidate selection and lock acquisition
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT marked_for_deletion_at FROM users WHERE id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"marked_for_deletion_at"}).AddRow(nil))
	mock.ExpectRollback()
	_, err := e.DeleteUser(context.Background(), userID)
	require.ErrorIs(t, err, errs.ErrNotEligible)

	// re-marked too recently: grace period still running
	markedAt := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT marked_for_deletion_at FROM users WHERE id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"marked_for_deletion_at"}).AddRow(&markedAt))
	mock.ExpectRollback()
	_, err = e.DeleteUser(context.Background(), userID)
	require.ErrorIs(t, err, errs.ErrNotEligible)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_AbsentUserIsNoOp(t *testing.T) {
	e, mock := newEngine(t, false)
	defer mock.Close()
	userID := uuid.Must(uuid.NewV4())

	res, err := e.DeleteUser(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, res.Deleted)
	require.Empty(t, res.Warnings)
	require.NoError(t, mock.ExpectationsWereMet())
}
