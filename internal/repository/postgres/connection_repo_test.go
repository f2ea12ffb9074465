package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestConnectionRepo_Disconnect(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	connID := uuid.Must(uuid.NewV4())
	at := time.Now()
	neutralized := []byte("sealed-empty")

	mock.ExpectExec(`UPDATE external_connections\s+SET status='disconnected', disconnected_at=\$3, secret_enc=\$4\s+WHERE id=\$2 AND user_id=\$1 AND status='active'`).
		WithArgs(userID, connID, at, neutralized).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Disconnect(ctx, userID, connID, neutralized, at))

	// already disconnected or not owned by the user
	mock.ExpectExec(`UPDATE external_connections`).
		WithArgs(userID, connID, at, neutralized).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Disconnect(ctx, userID, connID, neutralized, at), errs.ErrNotFound)
}

func TestConnectionRepo_ExpiredDisconnected(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db)
	ctx := context.Background()
	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id FROM external_connections\s+WHERE status='disconnected' AND disconnected_at < \$1`).
		WithArgs(cutoff, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
	ids, err := r.ExpiredDisconnected(ctx, cutoff, 50)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, ids)
}

func TestConnectionRepo_Purge(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	connID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id FROM external_connections WHERE id=\$1 AND status='disconnected' FOR UPDATE`).
		WithArgs(connID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
	mock.ExpectExec(`DELETE FROM transactions WHERE account_id IN \(SELECT id FROM accounts WHERE connection_id=\$1\)`).
		WithArgs(connID).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`DELETE FROM accounts WHERE connection_id=\$1`).
		WithArgs(connID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM external_connections WHERE id=\$1`).
		WithArgs(connID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO retention_log`).
		WithArgs(model.ActionConnectionPurged, &userID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	counts, err := r.Purge(ctx, connID)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		"transactions":         12,
		"accounts":             2,
		"external_connections": 1,
	}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_Purge_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConnectionRepo(db)
	ctx := context.Background()
	connID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id FROM external_connections WHERE id=\$1 AND status='disconnected' FOR UPDATE`).
		WithArgs(connID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.Purge(ctx, connID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
