package repository

import (
	"context"

	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RetentionLogRepository appends to the append-only policy ledger. There is
// deliberately no update or delete.
type RetentionLogRepository interface {
	// Append writes one ledger row.
	Append(ctx context.Context, e model.RetentionLogEntry) error

	// LastDeletion returns the most recent account_deleted entry for a user,
	// used to recover former client ids after the rows are gone.
	LastDeletion(ctx context.Context, userID uuid.UUID) (*model.RetentionLogEntry, error)
}
