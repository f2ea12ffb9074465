// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides lifecycle access to user rows. Candidate selection
// re-derives state on every call, never from a queue, so sweeps stay
// idempotent and crash-safe.
type UserRepository interface {
	// Get loads a user by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)

	// Exists reports whether the user row is present.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	// WarningCandidates returns active, unwarned users whose last login is
	// before cutoff.
	WarningCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.User, error)

	// MarkWarned stamps the inactivity warning date. Returns false when the
	// user is already warned or no longer active (a no-op, not an error).
	MarkWarned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// MarkingCandidates returns warned users whose last login is before cutoff
	// and who are not yet marked for deletion.
	MarkingCandidates(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// MarkForDeletion flips the user to inactive and stamps the marker.
	// Returns false when already marked or not active.
	MarkForDeletion(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// DeletionCandidates returns users whose grace deadline had elapsed as of
	// cutoff (= sweep start minus the deletion period).
	DeletionCandidates(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// CloseAccount performs the user-initiated closure in one transaction:
	// revokes all tokens and clients, marks the user for deletion, and appends
	// the ledger entry. scheduledAt is the resulting deletion date.
	CloseAccount(ctx context.Context, id uuid.UUID, now, scheduledAt time.Time) error

	// CancelDeletion reverses a pending closure in one transaction, checking
	// the deadline under row lock. Returns errs.ErrExpiredGracePeriod without
	// mutating anything when now is past markedAt+period.
	CancelDeletion(ctx context.Context, id uuid.UUID, now time.Time, period time.Duration) error
}
