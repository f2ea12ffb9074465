package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/finagg/retention/internal/policy"
)

type fakeAuditRepo struct {
	remaining    map[string]int64
	remainingErr error
	gotFormer    []string

	anonymized int64

	report     *model.AuditReport
	gotCutoffs model.AuditCutoffs

	snapshot  *model.ExportSnapshot
	exportErr error
}

func (f *fakeAuditRepo) RemainingCounts(_ context.Context, _ uuid.UUID, former []string) (map[string]int64, error) {
	f.gotFormer = former
	return f.remaining, f.remainingErr
}

func (f *fakeAuditRepo) AnonymizedAuditCount(context.Context, uuid.UUID) (int64, error) {
	return f.anonymized, nil
}

func (f *fakeAuditRepo) ComplianceCounts(_ context.Context, c model.AuditCutoffs) (*model.AuditReport, error) {
	f.gotCutoffs = c
	return f.report, nil
}

func (f *fakeAuditRepo) Export(context.Context, uuid.UUID) (*model.ExportSnapshot, error) {
	return f.snapshot, f.exportErr
}

type fakeLedger struct {
	entries      []model.RetentionLogEntry
	lastDeletion *model.RetentionLogEntry
	lastErr      error
}

func (f *fakeLedger) Append(_ context.Context, e model.RetentionLogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLedger) LastDeletion(context.Context, uuid.UUID) (*model.RetentionLogEntry, error) {
	return f.lastDeletion, f.lastErr
}

func TestVerify_CompleteDeletion(t *testing.T) {
	clientID := uuid.Must(uuid.NewV4()).String()
	repo := &fakeAuditRepo{
		remaining: map[string]int64{
			"users": 0, "clients": 0, "tokens": 0, "query_history": 0,
		},
		anonymized: 4,
	}
	ledger := &fakeLedger{
		lastDeletion: &model.RetentionLogEntry{
			Action:  model.ActionAccountDeleted,
			Details: []byte(`{"client_ids":["` + clientID + `"]}`),
		},
	}
	s := New(repo, ledger, policy.Default(), zap.NewNop())

	rep, err := s.Verify(context.Background(), uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	require.True(t, rep.IsCompletelyDeleted)
	// former client ids recovered from the deletion ledger entry
	require.Equal(t, []string{clientID}, repo.gotFormer)
	require.Equal(t, int64(4), rep.Related["audit_log_anonymized"])
}

func TestVerify_LeftoverRows(t *testing.T) {
	repo := &fakeAuditRepo{
		remaining: map[string]int64{"users": 0, "tokens": 2},
	}
	ledger := &fakeLedger{lastErr: errs.ErrNotFound}
	s := New(repo, ledger, policy.Default(), zap.NewNop())

	rep, err := s.Verify(context.Background(), uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	require.False(t, rep.IsCompletelyDeleted)
	require.Equal(t, int64(2), rep.Remaining["tokens"])
	// no deletion ledger entry means no former client ids, not an error
	require.Empty(t, repo.gotFormer)
}

func TestVerify_LedgerFailurePropagates(t *testing.T) {
	ledger := &fakeLedger{lastErr: errors.New("db down")}
	s := New(&fakeAuditRepo{}, ledger, policy.Default(), zap.NewNop())

	_, err := s.Verify(context.Background(), uuid.Must(uuid.NewV4()))
	require.Error(t, err)
}

func TestAudit(t *testing.T) {
	repo := &fakeAuditRepo{
		report: &model.AuditReport{ExpiredTokens: 12, TotalPendingDeletions: 3},
	}
	ledger := &fakeLedger{}
	pol := policy.Default()
	s := New(repo, ledger, pol, zap.NewNop())
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rep, err := s.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12), rep.ExpiredTokens)

	// cutoffs derive from the policy horizons at audit time
	require.Equal(t, now.Add(-pol.AccessTokenTTL), repo.gotCutoffs.AccessToken)
	require.Equal(t, now.Add(-pol.TransactionTTL), repo.gotCutoffs.Transaction)
	require.Equal(t, now.Add(-pol.WarningPeriod), repo.gotCutoffs.Inactivity)

	require.Len(t, ledger.entries, 1)
	e := ledger.entries[0]
	require.Equal(t, model.ActionComplianceAudit, e.Action)
	require.Nil(t, e.UserID)
	var stored model.AuditReport
	require.NoError(t, json.Unmarshal(e.Details, &stored))
	require.Equal(t, *rep, stored)
}

func TestExport(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	repo := &fakeAuditRepo{
		snapshot: &model.ExportSnapshot{ExportedAt: time.Now().UTC()},
	}
	ledger := &fakeLedger{}
	s := New(repo, ledger, policy.Default(), zap.NewNop())

	snap, err := s.Export(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, repo.snapshot, snap)
	require.Len(t, ledger.entries, 1)
	require.Equal(t, model.ActionDataExport, ledger.entries[0].Action)
	require.Equal(t, userID, *ledger.entries[0].UserID)
}

func TestExport_UnknownUser(t *testing.T) {
	repo := &fakeAuditRepo{exportErr: errs.ErrNotFound}
	ledger := &fakeLedger{}
	s := New(repo, ledger, policy.Default(), zap.NewNop())

	_, err := s.Export(context.Background(), uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, ledger.entries)
}
