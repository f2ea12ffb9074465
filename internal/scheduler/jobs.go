package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finagg/retention/internal/errs"
	"github.com/finagg/retention/internal/metrics"
	"github.com/finagg/retention/internal/model"
	"github.com/finagg/retention/internal/policy"
	"github.com/finagg/retention/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Deleter executes one cascading user deletion. Implemented by *engine.Engine.
type Deleter interface {
	DeleteUser(ctx context.Context, userID uuid.UUID) (*model.DeletionResult, error)
}

// Transitioner applies per-user lifecycle transitions. Implemented by
// *lifecycle.Service.
type Transitioner interface {
	WarnUser(ctx context.Context, u model.User) (bool, error)
	MarkUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Auditor runs the monthly compliance audit. Implemented by *auditor.Service.
type Auditor interface {
	Audit(ctx context.Context) (*model.AuditReport, error)
}

// Jobs holds the sweep bodies the cron schedule invokes. Candidates are
// re-derived from store state on every run, so each job is idempotent and
// safe to re-run after a crash.
type Jobs struct {
	users   repository.UserRepository
	conns   repository.ConnectionRepository
	sweeps  repository.SweepRepository
	ledger  repository.RetentionLogRepository
	engine  Deleter
	life    Transitioner
	auditor Auditor

	pol policy.Policy
	met *metrics.Metrics
	log *zap.Logger

	batchLimit    int
	deleteTimeout time.Duration
	now           func() time.Time
}

// NewJobs wires the sweep bodies.
func NewJobs(
	users repository.UserRepository,
	conns repository.ConnectionRepository,
	sweeps repository.SweepRepository,
	ledger repository.RetentionLogRepository,
	engine Deleter,
	life Transitioner,
	aud Auditor,
	pol policy.Policy,
	met *metrics.Metrics,
	log *zap.Logger,
	batchLimit int,
	deleteTimeout time.Duration,
) *Jobs {
	if batchLimit <= 0 {
		batchLimit = 500
	}
	if deleteTimeout <= 0 {
		deleteTimeout = 2 * time.Minute
	}
	return &Jobs{
		users:         users,
		conns:         conns,
		sweeps:        sweeps,
		ledger:        ledger,
		engine:        engine,
		life:          life,
		auditor:       aud,
		pol:           pol,
		met:           met,
		log:           log,
		batchLimit:    batchLimit,
		deleteTimeout: deleteTimeout,
		now:           time.Now,
	}
}

// RunDaily expires tokens, purges disconnected connections, ages out stale
// derived records, opens grace periods, and runs the deletion sweep. Phases
// are independent: one failing phase never blocks the rest.
func (j *Jobs) RunDaily(ctx context.Context) error {
	start := j.now()
	j.met.SweepRuns.WithLabelValues("daily").Inc()

	var phaseErrs []error
	if err := j.expireTokens(ctx, start); err != nil {
		phaseErrs = append(phaseErrs, fmt.Errorf("token sweep: %w", err))
	}
	if err := j.purgeConnections(ctx, start); err != nil {
		phaseErrs = append(phaseErrs, fmt.Errorf("connection purge: %w", err))
	}
	if err := j.expireStaleRecords(ctx, start); err != nil {
		phaseErrs = append(phaseErrs, fmt.Errorf("stale record sweep: %w", err))
	}
	if err := j.markInactive(ctx, start); err != nil {
		phaseErrs = append(phaseErrs, fmt.Errorf("marking sweep: %w", err))
	}
	if err := j.deleteEligible(ctx, start); err != nil {
		phaseErrs = append(phaseErrs, fmt.Errorf("deletion sweep: %w", err))
	}
	return errors.Join(phaseErrs...)
}

// RunWeekly warns users inactive past the warning period. One user's failure
// never blocks the others.
func (j *Jobs) RunWeekly(ctx context.Context) error {
	start := j.now()
	j.met.SweepRuns.WithLabelValues("weekly").Inc()

	candidates, err := j.users.WarningCandidates(ctx, start.Add(-j.pol.WarningPeriod), j.batchLimit)
	if err != nil {
		return fmt.Errorf("warning candidates: %w", err)
	}
	var warned int
	for _, u := range candidates {
		ok, err := j.life.WarnUser(ctx, u)
		if err != nil {
			j.log.Error("warning user failed", zap.String("user_id", u.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			warned++
			j.met.UsersWarned.Inc()
		}
	}
	j.log.Info("weekly sweep done", zap.Int("candidates", len(candidates)), zap.Int("warned", warned))
	return nil
}

// RunMonthly records the full compliance audit.
func (j *Jobs) RunMonthly(ctx context.Context) error {
	j.met.SweepRuns.WithLabelValues("monthly").Inc()
	if _, err := j.auditor.Audit(ctx); err != nil {
		return fmt.Errorf("compliance audit: %w", err)
	}
	return nil
}

func (j *Jobs) expireTokens(ctx context.Context, start time.Time) error {
	counts, err := j.sweeps.DeleteExpiredTokens(ctx, repository.TokenCutoffs{
		Access:  start.Add(-j.pol.AccessTokenTTL),
		Refresh: start.Add(-j.pol.RefreshTokenTTL),
		Revoked: start.Add(-j.pol.RevokedTokenTTL),
	})
	if err != nil {
		return err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}
	j.met.RowsDeleted.WithLabelValues("tokens").Add(float64(total))
	return j.appendLedger(ctx, model.ActionTokensExpired, nil, map[string]any{"deleted": counts})
}

func (j *Jobs) purgeConnections(ctx context.Context, start time.Time) error {
	ids, err := j.conns.ExpiredDisconnected(ctx, start.Add(-j.pol.DisconnectedConnTTL), j.batchLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		counts, err := j.conns.Purge(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue // vanished between selection and action: already satisfied
			}
			j.log.Error("connection purge failed", zap.String("connection_id", id.String()), zap.Error(err))
			continue
		}
		for kind, n := range counts {
			j.met.RowsDeleted.WithLabelValues(kind).Add(float64(n))
		}
	}
	return nil
}

func (j *Jobs) expireStaleRecords(ctx context.Context, start time.Time) error {
	counts, err := j.sweeps.DeleteStaleRecords(ctx, repository.RecordCutoffs{
		Transactions: start.Add(-j.pol.TransactionTTL),
		Insights:     start.Add(-j.pol.InsightTTL),
		QueryHistory: start.Add(-j.pol.QueryHistoryTTL),
	})
	if err != nil {
		return err
	}
	var total int64
	for kind, n := range counts {
		total += n
		if n > 0 {
			j.met.RowsDeleted.WithLabelValues(kind).Add(float64(n))
		}
	}
	if total == 0 {
		return nil
	}
	return j.appendLedger(ctx, model.ActionRecordsExpired, nil, map[string]any{"deleted": counts})
}

func (j *Jobs) markInactive(ctx context.Context, start time.Time) error {
	cutoff := start.Add(-(j.pol.WarningPeriod + j.pol.GracePeriod))
	ids, err := j.users.MarkingCandidates(ctx, cutoff, j.batchLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		ok, err := j.life.MarkUser(ctx, id)
		if err != nil {
			j.log.Error("marking user failed", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		if ok {
			j.met.UsersMarked.Inc()
		}
	}
	return nil
}

// deleteEligible only considers candidates whose grace deadline had elapsed
// as of sweep start, so warnings arriving mid-sweep cannot race into it. Each
// candidate gets its own bounded-timeout deletion; a timed-out or failed
// candidate is retried on the next daily run, never in a loop here.
func (j *Jobs) deleteEligible(ctx context.Context, start time.Time) error {
	ids, err := j.users.DeletionCandidates(ctx, start.Add(-j.pol.DeletionPeriod), j.batchLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		cctx, cancel := context.WithTimeout(ctx, j.deleteTimeout)
		res, err := j.engine.DeleteUser(cctx, id)
		cancel()
		if err != nil {
			if errors.Is(err, errs.ErrNotEligible) {
				continue // cancelled between selection and the in-tx re-check
			}
			var crit *errs.CriticalDeletionError
			if errors.As(err, &crit) {
				j.met.DeletionFailures.WithLabelValues("critical").Inc()
			}
			j.log.Error("user deletion failed", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		j.met.UsersDeleted.Inc()
		j.met.DeletionSeconds.Observe(res.Duration.Seconds())
		for kind, n := range res.Deleted {
			j.met.RowsDeleted.WithLabelValues(kind).Add(float64(n))
		}
		if len(res.Warnings) > 0 {
			j.met.DeletionFailures.WithLabelValues("non_critical").Add(float64(len(res.Warnings)))
		}
	}
	return nil
}

func (j *Jobs) appendLedger(ctx context.Context, action string, userID *uuid.UUID, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return j.ledger.Append(ctx, model.RetentionLogEntry{Action: action, UserID: userID, Details: raw})
}
