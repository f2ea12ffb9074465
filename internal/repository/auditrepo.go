package repository

import (
	"context"

	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AuditRepository serves the read-only compliance queries.
type AuditRepository interface {
	// RemainingCounts counts rows still referencing the user, directly or
	// through the supplied former client ids. Non-zero means the deletion is
	// incomplete.
	RemainingCounts(ctx context.Context, userID uuid.UUID, formerClientIDs []string) (map[string]int64, error)

	// AnonymizedAuditCount counts audit rows attributed to the user that were
	// rewritten to the system sentinel.
	AnonymizedAuditCount(ctx context.Context, userID uuid.UUID) (int64, error)

	// ComplianceCounts counts store-wide rows eligible for each sweep
	// category without mutating anything.
	ComplianceCounts(ctx context.Context, c model.AuditCutoffs) (*model.AuditReport, error)

	// Export assembles the portable snapshot for one user.
	Export(ctx context.Context, userID uuid.UUID) (*model.ExportSnapshot, error)
}
