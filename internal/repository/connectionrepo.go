package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ConnectionRepository manages external bank connections and their purge.
type ConnectionRepository interface {
	// Disconnect flips an active connection to disconnected, overwrites its
	// secret with the neutralized ciphertext and stamps disconnected_at.
	Disconnect(ctx context.Context, userID, connID uuid.UUID, neutralized []byte, at time.Time) error

	// ExpiredDisconnected returns connections disconnected before cutoff.
	ExpiredDisconnected(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// Purge removes one disconnected connection with its accounts and
	// transactions in a single transaction, appending the ledger entry.
	// Returns per-kind deleted counts.
	Purge(ctx context.Context, connID uuid.UUID) (map[string]int64, error)
}
