// Package graph declares the entity dependency manifest and resolves the
// order a user's records must be processed in so no delete ever violates a
// foreign key. The manifest is data: adding an entity kind means adding a row,
// not another hand-written cascade.
package graph

// Disposition says what a cascade does to an entity kind.
type Disposition int

const (
	// HardDelete removes matching rows outright.
	HardDelete Disposition = iota
	// AnonymizeOnly rewrites the actor reference to the system sentinel and
	// preserves the row. Never counted as deleted.
	AnonymizeOnly
)

// Entity kind names double as table names.
const (
	KindTransactions   = "transactions"
	KindInsightMetrics = "insight_metrics"
	KindQueryHistory   = "query_history"
	KindAccounts       = "accounts"
	KindTokens         = "tokens"
	KindConnections    = "external_connections"
	KindClients        = "clients"
	KindAuditLog       = "audit_log"
	KindUsers          = "users"
)

// EntitySpec is one manifest row. Statement is scoped to a root user id ($1);
// anonymize statements additionally take the sentinel actor ($2). Critical
// kinds abort the whole cascade on failure; the rest degrade to warnings.
type EntitySpec struct {
	Kind        string
	DependsOn   []string // FK parents among managed kinds
	Disposition Disposition
	Critical    bool
	Statement   string
}

// Manifest lists every entity kind subject to a user cascade. Declaration
// order is only a tie-breaker; the resolver orders by DependsOn.
func Manifest() []EntitySpec {
	return []EntitySpec{
		{
			Kind:      KindTransactions,
			DependsOn: []string{KindAccounts},
			Critical:  false,
			Statement: `DELETE FROM transactions WHERE account_id IN (
SELECT a.id FROM accounts a
JOIN external_connections c ON a.connection_id = c.id
WHERE c.user_id = $1)`,
		},
		{
			Kind:      KindInsightMetrics,
			DependsOn: []string{KindUsers},
			Critical:  false,
			Statement: `DELETE FROM insight_metrics WHERE user_id = $1`,
		},
		{
			Kind:      KindQueryHistory,
			DependsOn: []string{KindClients},
			Critical:  false,
			Statement: `DELETE FROM query_history WHERE client_id IN (
SELECT id FROM clients WHERE user_id = $1)`,
		},
		{
			Kind:      KindAccounts,
			DependsOn: []string{KindConnections},
			Critical:  false,
			Statement: `DELETE FROM accounts WHERE connection_id IN (
SELECT id FROM external_connections WHERE user_id = $1)`,
		},
		{
			Kind:      KindTokens,
			DependsOn: []string{KindUsers, KindClients},
			Critical:  true,
			Statement: `DELETE FROM tokens WHERE user_id = $1`,
		},
		{
			Kind:      KindConnections,
			DependsOn: []string{KindUsers},
			Critical:  true,
			Statement: `DELETE FROM external_connections WHERE user_id = $1`,
		},
		{
			Kind:      KindClients,
			DependsOn: []string{KindUsers},
			Critical:  true,
			Statement: `DELETE FROM clients WHERE user_id = $1`,
		},
		{
			Kind:        KindAuditLog,
			DependsOn:   []string{KindUsers},
			Disposition: AnonymizeOnly,
			Critical:    false,
			Statement: `UPDATE audit_log
SET actor_id = $2,
    original_actor = jsonb_build_object('actor_id', $1::text, 'anonymized_at', now())
WHERE actor_id = $1::text`,
		},
		{
			Kind:      KindUsers,
			Critical:  true,
			Statement: `DELETE FROM users WHERE id = $1`,
		},
	}
}
