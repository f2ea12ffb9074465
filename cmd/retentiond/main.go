// Command retentiond runs the retention and lifecycle sweeps as a daemon.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finagg/retention/internal/auditor"
	"github.com/finagg/retention/internal/engine"
	"github.com/finagg/retention/internal/graph"
	"github.com/finagg/retention/internal/lifecycle"
	"github.com/finagg/retention/internal/metrics"
	"github.com/finagg/retention/internal/migrate"
	"github.com/finagg/retention/internal/notify"
	"github.com/finagg/retention/internal/policy"
	"github.com/finagg/retention/internal/repository/postgres"
	"github.com/finagg/retention/internal/scheduler"
	"github.com/finagg/retention/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the sweep scheduler.
func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("RETENTION_DSN"), "PostgreSQL DSN")
	policyFile := flag.String("policy", os.Getenv("RETENTION_POLICY_FILE"), "retention policy YAML (optional)")
	vaultKeyHex := flag.String("vault-key", os.Getenv("RETENTION_VAULT_KEY"), "hex-encoded 32-byte vault key (required)")
	vaultKeyID := flag.String("vault-key-id", "v1", "vault key identifier")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus listen address")
	dailyExpr := flag.String("daily", "", "daily sweep cron expression")
	weeklyExpr := flag.String("weekly", "", "weekly sweep cron expression")
	monthlyExpr := flag.String("monthly", "", "monthly sweep cron expression")
	batchLimit := flag.Int("batch-limit", 500, "max candidates per sweep phase")
	deleteTimeout := flag.Duration("delete-timeout", 2*time.Minute, "per-user deletion deadline")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	if *dsn == "" {
		logger.Fatal("missing DSN (--dsn or RETENTION_DSN)")
	}
	key, err := hex.DecodeString(*vaultKeyHex)
	if err != nil || len(key) != 32 {
		logger.Fatal("vault key must be 64 hex chars (--vault-key)")
	}

	pol, err := policy.Load(*policyFile)
	if err != nil {
		logger.Fatal("load policy", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, *dsn); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, *dsn)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer db.Close()

	userRepo := postgres.NewUserRepo(db)
	connRepo := postgres.NewConnectionRepo(db)
	sweepRepo := postgres.NewSweepRepo(db)
	ledgerRepo := postgres.NewRetentionLogRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	v, err := vault.New(key, *vaultKeyID)
	if err != nil {
		logger.Fatal("vault", zap.Error(err))
	}

	resolver, err := graph.NewResolver(userRepo, graph.Manifest())
	if err != nil {
		logger.Fatal("dependency manifest", zap.Error(err))
	}
	eng := engine.New(db.Pool, resolver, pol.DeletionPeriod, logger)

	sender := &notify.LogSender{Log: logger}
	life := lifecycle.New(userRepo, connRepo, ledgerRepo, v, sender, pol, logger)
	aud := auditor.New(auditRepo, ledgerRepo, pol, logger)

	met := metrics.New(prometheus.DefaultRegisterer)
	jobs := scheduler.NewJobs(
		userRepo, connRepo, sweepRepo, ledgerRepo,
		eng, life, aud,
		pol, met, logger,
		*batchLimit, *deleteTimeout,
	)

	cfg := scheduler.DefaultConfig()
	if *dailyExpr != "" {
		cfg.Daily = *dailyExpr
	}
	if *weeklyExpr != "" {
		cfg.Weekly = *weeklyExpr
	}
	if *monthlyExpr != "" {
		cfg.Monthly = *monthlyExpr
	}

	sched := scheduler.NewScheduler(jobs, cfg, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", *metricsAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		sched.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	case err := <-errCh:
		logger.Error("metrics server error", zap.Error(err))
		sched.Stop()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
