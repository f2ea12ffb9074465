package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AuditRepo implements AuditRepository using PostgreSQL. Everything here is
// read-only.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// remainingChecks re-queries every relationship that must be empty for a
// deleted user. query_history is scoped through former client ids because the
// client rows themselves are gone after a cascade.
var remainingChecks = []struct {
	kind string
	sql  string
}{
	{"users", `SELECT COUNT(*) FROM users WHERE id=$1`},
	{"clients", `SELECT COUNT(*) FROM clients WHERE user_id=$1`},
	{"external_connections", `SELECT COUNT(*) FROM external_connections WHERE user_id=$1`},
	{"tokens", `SELECT COUNT(*) FROM tokens WHERE user_id=$1`},
	{"insight_metrics", `SELECT COUNT(*) FROM insight_metrics WHERE user_id=$1`},
	{"accounts", `SELECT COUNT(*) FROM accounts WHERE connection_id IN (
SELECT id FROM external_connections WHERE user_id=$1)`},
	{"transactions", `SELECT COUNT(*) FROM transactions WHERE account_id IN (
SELECT a.id FROM accounts a JOIN external_connections c ON a.connection_id=c.id WHERE c.user_id=$1)`},
	{"audit_log", `SELECT COUNT(*) FROM audit_log WHERE actor_id=$1::text`},
}

// RemainingCounts counts rows still referencing the user.
func (r *AuditRepo) RemainingCounts(ctx context.Context, userID uuid.UUID, formerClientIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(remainingChecks)+1)
	for _, c := range remainingChecks {
		var n int64
		if err := r.db.Pool.QueryRow(ctx, c.sql, userID).Scan(&n); err != nil {
			return nil, err
		}
		out[c.kind] = n
	}

	const qh = `
SELECT COUNT(*) FROM query_history
WHERE client_id IN (SELECT id FROM clients WHERE user_id=$1)
   OR client_id = ANY($2::uuid[])`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, qh, userID, formerClientIDs).Scan(&n); err != nil {
		return nil, err
	}
	out["query_history"] = n
	return out, nil
}

// AnonymizedAuditCount counts preserved audit rows attributable to the user
// through the anonymization side field.
func (r *AuditRepo) AnonymizedAuditCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `
SELECT COUNT(*) FROM audit_log
WHERE actor_id=$2 AND original_actor->>'actor_id'=$1::text`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, userID, model.SystemActor).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ComplianceCounts counts store-wide rows eligible for each sweep category.
func (r *AuditRepo) ComplianceCounts(ctx context.Context, c model.AuditCutoffs) (*model.AuditReport, error) {
	const q = `
SELECT
  (SELECT COUNT(*) FROM tokens WHERE (kind='access' AND is_revoked=false AND expires_at < $1)
     OR (kind='refresh' AND is_revoked=false AND expires_at < $2)
     OR (is_revoked=true AND revoked_at < $3)),
  (SELECT COUNT(*) FROM transactions WHERE booked_at < $4),
  (SELECT COUNT(*) FROM insight_metrics WHERE computed_at < $5),
  (SELECT COUNT(*) FROM users WHERE status='active' AND last_login_at < $6),
  (SELECT COUNT(*) FROM external_connections WHERE status='disconnected' AND disconnected_at < $7),
  (SELECT COUNT(*) FROM users WHERE marked_for_deletion_at IS NOT NULL)`
	var rep model.AuditReport
	err := r.db.Pool.QueryRow(ctx, q,
		c.AccessToken, c.RefreshToken, c.RevokedToken,
		c.Transaction, c.Insight, c.Inactivity, c.Disconnection,
	).Scan(
		&rep.ExpiredTokens, &rep.StaleTransactions, &rep.StaleInsights,
		&rep.InactiveAccounts, &rep.DisconnectedConnections, &rep.TotalPendingDeletions,
	)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Export assembles the portable snapshot for one user.
func (r *AuditRepo) Export(ctx context.Context, userID uuid.UUID) (*model.ExportSnapshot, error) {
	snap := &model.ExportSnapshot{ExportedAt: time.Now().UTC()}

	const qu = `
SELECT id, email, status, last_login_at, inactivity_warning_at, marked_for_deletion_at, created_at
FROM users WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, qu, userID)
	u := &snap.User
	if err := row.Scan(&u.ID, &u.Email, &u.Status, &u.LastLoginAt, &u.InactivityWarningAt, &u.MarkedForDeletionAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	const qc = `SELECT id, user_id, name, status, revoked_reason, created_at FROM clients WHERE user_id=$1 ORDER BY created_at`
	if err := queryInto(ctx, r.db.Pool, qc, userID, &snap.Clients, func(rows pgx.Rows, c *model.Client) error {
		return rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Status, &c.RevokedReason, &c.CreatedAt)
	}); err != nil {
		return nil, err
	}

	const qn = `SELECT id, user_id, provider, status, key_id, disconnected_at, created_at FROM external_connections WHERE user_id=$1 ORDER BY created_at`
	if err := queryInto(ctx, r.db.Pool, qn, userID, &snap.Connections, func(rows pgx.Rows, c *model.Connection) error {
		return rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.Status, &c.KeyID, &c.DisconnectedAt, &c.CreatedAt)
	}); err != nil {
		return nil, err
	}

	const qa = `
SELECT a.id, a.connection_id, a.name, a.iban_masked, a.currency, a.created_at
FROM accounts a JOIN external_connections c ON a.connection_id=c.id
WHERE c.user_id=$1 ORDER BY a.created_at`
	if err := queryInto(ctx, r.db.Pool, qa, userID, &snap.Accounts, func(rows pgx.Rows, a *model.Account) error {
		return rows.Scan(&a.ID, &a.ConnectionID, &a.Name, &a.IBANMasked, &a.Currency, &a.CreatedAt)
	}); err != nil {
		return nil, err
	}

	const qt = `
SELECT t.id, t.account_id, t.amount_cents, t.description, t.booked_at
FROM transactions t
JOIN accounts a ON t.account_id=a.id
JOIN external_connections c ON a.connection_id=c.id
WHERE c.user_id=$1 ORDER BY t.booked_at`
	if err := queryInto(ctx, r.db.Pool, qt, userID, &snap.Transactions, func(rows pgx.Rows, t *model.Transaction) error {
		return rows.Scan(&t.ID, &t.AccountID, &t.AmountCents, &t.Description, &t.BookedAt)
	}); err != nil {
		return nil, err
	}

	const qi = `SELECT id, user_id, metric, payload, computed_at FROM insight_metrics WHERE user_id=$1 ORDER BY computed_at`
	if err := queryInto(ctx, r.db.Pool, qi, userID, &snap.Insights, func(rows pgx.Rows, m *model.InsightMetric) error {
		return rows.Scan(&m.ID, &m.UserID, &m.Metric, &m.Payload, &m.ComputedAt)
	}); err != nil {
		return nil, err
	}

	const qq = `
SELECT q.id, q.client_id, q.endpoint, q.queried_at
FROM query_history q JOIN clients cl ON q.client_id=cl.id
WHERE cl.user_id=$1 ORDER BY q.queried_at`
	if err := queryInto(ctx, r.db.Pool, qq, userID, &snap.Queries, func(rows pgx.Rows, q *model.QueryEvent) error {
		return rows.Scan(&q.ID, &q.ClientID, &q.Endpoint, &q.QueriedAt)
	}); err != nil {
		return nil, err
	}

	return snap, nil
}

// queryInto runs a one-arg query and scans every row into dst.
func queryInto[T any](ctx context.Context, pool PgxPool, sql string, arg any, dst *[]T, scan func(pgx.Rows, *T) error) error {
	rows, err := pool.Query(ctx, sql, arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v T
		if err := scan(rows, &v); err != nil {
			return err
		}
		*dst = append(*dst, v)
	}
	return rows.Err()
}
