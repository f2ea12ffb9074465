// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist. For sweeps
	// this is already-satisfied, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrExpiredGracePeriod indicates a cancellation arrived after the
	// deletion deadline. Nothing is mutated.
	ErrExpiredGracePeriod = errors.New("grace period expired")

	// ErrNotEligible indicates a deletion candidate no longer qualifies
	// (cancelled or deadline not yet elapsed) at the in-transaction re-check.
	ErrNotEligible = errors.New("not eligible for deletion")
)

// CriticalDeletionError reports a failure on a load-bearing entity kind or on
// commit: the cascade was rolled back and will be retried on the next run.
type CriticalDeletionError struct {
	UserID uuid.UUID
	Kind   string
	Err    error
}

func (e *CriticalDeletionError) Error() string {
	return fmt.Sprintf("critical deletion failure for user %s on %s: %v", e.UserID, e.Kind, e.Err)
}

func (e *CriticalDeletionError) Unwrap() error { return e.Err }
