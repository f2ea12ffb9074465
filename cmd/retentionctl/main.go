// Command retentionctl is an operator CLI for closure, cancellation, export
// and compliance checks against the retention store.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finagg/retention/internal/auditor"
	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/lifecycle"
	"github.com/finagg/retention/internal/notify"
	"github.com/finagg/retention/internal/policy"
	"github.com/finagg/retention/internal/repository/postgres"
	"github.com/finagg/retention/internal/vault"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: retentionctl [flags] <command> [args]

commands:
  close <user-id>                  request account closure
  cancel <user-id>                 cancel a pending deletion
  disconnect <user-id> <conn-id>   disconnect a bank connection
  export <user-id>                 print the data-portability snapshot
  verify <user-id>                 verify deletion completeness
  audit                            print the compliance audit report`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("RETENTION_DSN"), "PostgreSQL DSN")
	policyFile := flag.String("policy", os.Getenv("RETENTION_POLICY_FILE"), "retention policy YAML (optional)")
	vaultKeyHex := flag.String("vault-key", os.Getenv("RETENTION_VAULT_KEY"), "hex-encoded 32-byte vault key")
	vaultKeyID := flag.String("vault-key-id", "v1", "vault key identifier")
	timeout := flag.Duration("timeout", 30*time.Second, "operation deadline")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fatal(errors.New("missing DSN (--dsn or RETENTION_DSN)"))
	}

	pol, err := policy.Load(*policyFile)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := postgres.New(ctx, *dsn)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	logger := zap.NewNop()
	userRepo := postgres.NewUserRepo(db)
	connRepo := postgres.NewConnectionRepo(db)
	ledgerRepo := postgres.NewRetentionLogRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	var v *vault.Vault
	if *vaultKeyHex != "" {
		key, err := hex.DecodeString(*vaultKeyHex)
		if err != nil {
			fatal(fmt.Errorf("vault key: %w", err))
		}
		if v, err = vault.New(key, *vaultKeyID); err != nil {
			fatal(err)
		}
	}

	life := lifecycle.New(userRepo, connRepo, ledgerRepo, v, &notify.LogSender{Log: logger}, pol, logger)
	aud := auditor.New(auditRepo, ledgerRepo, pol, logger)

	switch args[0] {
	case "close":
		id := parseID(args, 1)
		scheduledAt, err := life.HandleAccountClosure(ctx, id)
		exit(map[string]any{"scheduled_deletion_at": scheduledAt}, err)
	case "cancel":
		id := parseID(args, 1)
		err := life.CancelAccountDeletion(ctx, id)
		if errors.Is(err, errs.ErrExpiredGracePeriod) {
			exit(map[string]any{"success": false, "reason": "grace period expired"}, nil)
		}
		exit(map[string]any{"success": err == nil}, err)
	case "disconnect":
		if v == nil {
			fatal(errors.New("disconnect requires --vault-key"))
		}
		userID := parseID(args, 1)
		connID := parseID(args, 2)
		purgeAt, err := life.HandleConnectionDisconnection(ctx, userID, connID)
		exit(map[string]any{"scheduled_purge_at": purgeAt}, err)
	case "export":
		id := parseID(args, 1)
		snap, err := aud.Export(ctx, id)
		exit(snap, err)
	case "verify":
		id := parseID(args, 1)
		rep, err := aud.Verify(ctx, id)
		exit(rep, err)
	case "audit":
		rep, err := aud.Audit(ctx)
		exit(rep, err)
	default:
		usage()
		os.Exit(2)
	}
}

func parseID(args []string, pos int) u.UUID {
	if len(args) <= pos {
		usage()
		os.Exit(2)
	}
	id, err := u.FromString(args[pos])
	if err != nil {
		fatal(fmt.Errorf("invalid id %q: %w", args[pos], err))
	}
	return id
}

func exit(payload any, err error) {
	if err != nil {
		fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
	os.Exit(0)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
