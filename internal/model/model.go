// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User statuses.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusRevoked  = "revoked"
)

// Client statuses.
const (
	ClientStatusActive  = "active"
	ClientStatusRevoked = "revoked"
	ClientStatusPending = "pending"
)

// Client revocation reasons. Only ReasonAccountClosure is reversible by a
// deletion cancellation.
const (
	ReasonAccountClosure        = "account_closure"
	ReasonAccountClosurePending = "account_closure_pending"
)

// Connection statuses.
const (
	ConnectionStatusActive       = "active"
	ConnectionStatusDisconnected = "disconnected"
)

// Token kinds.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// SystemActor is the sentinel identity substituted for a deleted user in
// preserved audit rows.
const SystemActor = "system"

// Retention ledger actions.
const (
	ActionInactivityWarning      = "inactivity_warning"
	ActionMarkedForDeletion      = "marked_for_deletion"
	ActionAccountDeleted         = "account_deleted"
	ActionAccountClosure         = "account_closure_requested"
	ActionDeletionCancelled      = "deletion_cancelled"
	ActionConnectionDisconnected = "connection_disconnected"
	ActionConnectionPurged       = "connection_purged"
	ActionTokensExpired          = "tokens_expired"
	ActionRecordsExpired         = "records_expired"
	ActionDataExport             = "data_export"
	ActionComplianceAudit        = "compliance_audit"
)

// User is the root identity anchoring a deletion cascade. Lifecycle fields
// are mutated only through defined transitions.
type User struct {
	ID                  uuid.UUID
	Email               string
	Status              string
	LastLoginAt         time.Time
	InactivityWarningAt *time.Time
	MarkedForDeletionAt *time.Time
	CreatedAt           time.Time
}

// Client is an API credential (tenant) owned by one user.
type Client struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Name          string
	Status        string
	RevokedReason *string
	CreatedAt     time.Time
}

// Connection is a link to an external bank, carrying an encrypted provider
// secret that is overwritten on disconnect.
type Connection struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Provider       string
	Status         string
	SecretEnc      []byte
	KeyID          string
	DisconnectedAt *time.Time
	CreatedAt      time.Time
}

// Token is an access or refresh credential aged out after expiry/revocation.
type Token struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ClientID  *uuid.UUID
	Kind      string
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Account is a bank account fetched through a connection.
type Account struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	Name         string
	IBANMasked   string
	Currency     string
	CreatedAt    time.Time
}

// Transaction is a booked movement on an account.
type Transaction struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	AmountCents int64
	Description string
	BookedAt    time.Time
}

// InsightMetric is a derived analytics record owned by a user.
type InsightMetric struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Metric     string
	Payload    []byte
	ComputedAt time.Time
}

// QueryEvent is one API call recorded against a client.
type QueryEvent struct {
	ID        uuid.UUID
	ClientID  uuid.UUID
	Endpoint  string
	QueriedAt time.Time
}

// AuditEntry references a user only as actor metadata; on user deletion the
// actor is replaced by SystemActor, never removed.
type AuditEntry struct {
	ID            uuid.UUID
	ActorID       string
	OriginalActor []byte
	Action        string
	Resource      string
	CreatedAt     time.Time
}

// RetentionLogEntry is one append-only ledger row per policy action.
type RetentionLogEntry struct {
	ID        int64
	Action    string
	UserID    *uuid.UUID
	Details   []byte
	CreatedAt time.Time
}

// Warning describes a non-critical per-kind failure during a cascade. The
// user is still considered deleted; the warning is kept for remediation.
type Warning struct {
	Kind string `json:"kind"`
	Err  string `json:"error"`
}

// DeletionResult reports one completed cascading deletion. Anonymized rows
// are reported separately and never counted as deleted.
type DeletionResult struct {
	UserID     uuid.UUID        `json:"user_id"`
	Deleted    map[string]int64 `json:"deleted"`
	Anonymized map[string]int64 `json:"anonymized,omitempty"`
	Warnings   []Warning        `json:"warnings,omitempty"`
	Duration   time.Duration    `json:"-"`
}

// VerificationReport is the outcome of a post-deletion check for one user.
type VerificationReport struct {
	UserID              uuid.UUID        `json:"user_id"`
	IsCompletelyDeleted bool             `json:"is_completely_deleted"`
	Remaining           map[string]int64 `json:"remaining_data"`
	Related             map[string]int64 `json:"related_data"`
}

// AuditReport holds store-wide counts of rows currently eligible per sweep.
type AuditReport struct {
	ExpiredTokens           int64 `json:"expired_tokens"`
	StaleTransactions       int64 `json:"stale_transactions"`
	StaleInsights           int64 `json:"stale_insights"`
	InactiveAccounts        int64 `json:"inactive_accounts"`
	DisconnectedConnections int64 `json:"disconnected_connections"`
	TotalPendingDeletions   int64 `json:"total_pending_deletions"`
}

// AuditCutoffs carries the policy thresholds an audit counts against.
type AuditCutoffs struct {
	AccessToken   time.Time
	RefreshToken  time.Time
	RevokedToken  time.Time
	Transaction   time.Time
	Insight       time.Time
	Inactivity    time.Time
	Disconnection time.Time
}

// ExportSnapshot is a portable copy of everything stored for one user.
type ExportSnapshot struct {
	User         User            `json:"user"`
	Clients      []Client        `json:"clients"`
	Connections  []Connection    `json:"connections"`
	Accounts     []Account       `json:"accounts"`
	Transactions []Transaction   `json:"transactions"`
	Insights     []InsightMetric `json:"insights"`
	Queries      []QueryEvent    `json:"query_history"`
	ExportedAt   time.Time       `json:"exported_at"`
}
