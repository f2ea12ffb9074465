// Package auditor provides the read-only compliance surface: post-deletion
// verification, store-wide eligibility audits and data-portability exports.
package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/finagg/retention/internal/policy"
	"github.com/finagg/retention/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Service is the compliance auditor. Besides the ledger rows it appends for
// exports and audits, it never mutates the store.
type Service struct {
	repo   repository.AuditRepository
	ledger repository.RetentionLogRepository
	pol    policy.Policy
	log    *zap.Logger
	now    func() time.Time
}

// New constructs the auditor.
func New(repo repository.AuditRepository, ledger repository.RetentionLogRepository, pol policy.Policy, log *zap.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, pol: pol, log: log, now: time.Now}
}

// deletionDetails is the slice of the ledger entry the auditor reads back.
type deletionDetails struct {
	ClientIDs []string `json:"client_ids"`
}

// Verify re-queries every table that should be empty for the user, resolving
// transitively owned rows through the client ids recorded at deletion time.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID) (*model.VerificationReport, error) {
	var former []string
	entry, err := s.ledger.LastDeletion(ctx, userID)
	switch {
	case err == nil:
		var d deletionDetails
		if err := json.Unmarshal(entry.Details, &d); err == nil {
			former = d.ClientIDs
		}
	case errors.Is(err, errs.ErrNotFound):
		// never deleted through the engine; verify against live state only
	default:
		return nil, err
	}

	remaining, err := s.repo.RemainingCounts(ctx, userID, former)
	if err != nil {
		return nil, err
	}
	anonymized, err := s.repo.AnonymizedAuditCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	complete := true
	for _, n := range remaining {
		if n > 0 {
			complete = false
			break
		}
	}
	return &model.VerificationReport{
		UserID:              userID,
		IsCompletelyDeleted: complete,
		Remaining:           remaining,
		Related:             map[string]int64{"audit_log_anonymized": anonymized},
	}, nil
}

// Audit counts store-wide rows currently eligible for each sweep category and
// persists the report as one ledger entry.
func (s *Service) Audit(ctx context.Context) (*model.AuditReport, error) {
	now := s.now()
	rep, err := s.repo.ComplianceCounts(ctx, model.AuditCutoffs{
		AccessToken:   now.Add(-s.pol.AccessTokenTTL),
		RefreshToken:  now.Add(-s.pol.RefreshTokenTTL),
		RevokedToken:  now.Add(-s.pol.RevokedTokenTTL),
		Transaction:   now.Add(-s.pol.TransactionTTL),
		Insight:       now.Add(-s.pol.InsightTTL),
		Inactivity:    now.Add(-s.pol.WarningPeriod),
		Disconnection: now.Add(-s.pol.DisconnectedConnTTL),
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, model.RetentionLogEntry{
		Action:  model.ActionComplianceAudit,
		Details: raw,
	}); err != nil {
		return nil, err
	}
	s.log.Info("compliance audit recorded",
		zap.Int64("expired_tokens", rep.ExpiredTokens),
		zap.Int64("pending_deletions", rep.TotalPendingDeletions),
	)
	return rep, nil
}

// Export assembles the portable snapshot for one user and records the export
// in the ledger.
func (s *Service) Export(ctx context.Context, userID uuid.UUID) (*model.ExportSnapshot, error) {
	snap, err := s.repo.Export(ctx, userID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any{"exported_at": snap.ExportedAt})
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, model.RetentionLogEntry{
		Action:  model.ActionDataExport,
		UserID:  &userID,
		Details: raw,
	}); err != nil {
		return nil, err
	}
	return snap, nil
}
