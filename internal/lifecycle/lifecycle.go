// Package lifecycle drives users through the retention state machine:
// Active -> Warned -> GracePeriod -> Deleted, with user-initiated closure and
// cancellation. Nothing here deletes data; the GracePeriod -> Deleted
// transition is executed solely by the deletion engine.
package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finagg/retention/internal/model"
	"github.com/finagg/retention/internal/notify"
	"github.com/finagg/retention/internal/policy"
	"github.com/finagg/retention/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// SecretNeutralizer produces the ciphertext that overwrites a disconnected
// connection's secret. Implemented by *vault.Vault.
type SecretNeutralizer interface {
	Neutralize() ([]byte, error)
}

// Service owns the lifecycle transitions.
type Service struct {
	users  repository.UserRepository
	conns  repository.ConnectionRepository
	ledger repository.RetentionLogRepository
	vault  SecretNeutralizer
	sender notify.Sender
	pol    policy.Policy
	log    *zap.Logger
	now    func() time.Time
}

// New constructs the lifecycle service.
func New(
	users repository.UserRepository,
	conns repository.ConnectionRepository,
	ledger repository.RetentionLogRepository,
	vault SecretNeutralizer,
	sender notify.Sender,
	pol policy.Policy,
	log *zap.Logger,
) *Service {
	return &Service{
		users:  users,
		conns:  conns,
		ledger: ledger,
		vault:  vault,
		sender: sender,
		pol:    pol,
		log:    log,
		now:    time.Now,
	}
}

// HandleAccountClosure revokes all tokens and clients immediately and opens
// the grace countdown. Returns the scheduled deletion date.
func (s *Service) HandleAccountClosure(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	now := s.now()
	scheduledAt := now.Add(s.pol.DeletionPeriod)
	if err := s.users.CloseAccount(ctx, userID, now, scheduledAt); err != nil {
		return time.Time{}, err
	}
	s.log.Info("account closure requested",
		zap.String("user_id", userID.String()),
		zap.Time("scheduled_deletion_at", scheduledAt),
	)
	return scheduledAt, nil
}

// CancelAccountDeletion reverses a pending deletion while the grace window is
// open. Past the deadline it surfaces errs.ErrExpiredGracePeriod and mutates
// nothing.
func (s *Service) CancelAccountDeletion(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.CancelDeletion(ctx, userID, s.now(), s.pol.DeletionPeriod); err != nil {
		return err
	}
	s.log.Info("account deletion cancelled", zap.String("user_id", userID.String()))
	return nil
}

// HandleConnectionDisconnection flips the connection to disconnected and
// overwrites its secret so the credential cannot be recovered. Returns the
// scheduled purge date.
func (s *Service) HandleConnectionDisconnection(ctx context.Context, userID, connID uuid.UUID) (time.Time, error) {
	neutralized, err := s.vault.Neutralize()
	if err != nil {
		return time.Time{}, err
	}
	now := s.now()
	if err := s.conns.Disconnect(ctx, userID, connID, neutralized, now); err != nil {
		return time.Time{}, err
	}
	purgeAt := now.Add(s.pol.DisconnectedConnTTL)
	if err := s.appendLedger(ctx, model.ActionConnectionDisconnected, userID, map[string]any{
		"connection_id":      connID.String(),
		"scheduled_purge_at": purgeAt,
	}); err != nil {
		return time.Time{}, err
	}
	return purgeAt, nil
}

// WarnUser stamps the inactivity warning date and fires the notification.
// Returns false when the user was already warned (a no-op). Notification
// failure is logged, never propagated.
func (s *Service) WarnUser(ctx context.Context, u model.User) (bool, error) {
	now := s.now()
	warned, err := s.users.MarkWarned(ctx, u.ID, now)
	if err != nil {
		return false, err
	}
	if !warned {
		return false, nil
	}
	if err := s.sender.SendInactivityWarning(ctx, u); err != nil {
		s.log.Warn("inactivity warning delivery failed",
			zap.String("user_id", u.ID.String()),
			zap.Error(err),
		)
	}
	if err := s.appendLedger(ctx, model.ActionInactivityWarning, u.ID, map[string]any{
		"last_login_at": u.LastLoginAt,
	}); err != nil {
		return true, err
	}
	return true, nil
}

// MarkUser opens the grace period for a warned, still-inactive user. Returns
// false when the user is already marked or no longer active.
func (s *Service) MarkUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	now := s.now()
	marked, err := s.users.MarkForDeletion(ctx, userID, now)
	if err != nil {
		return false, err
	}
	if !marked {
		return false, nil
	}
	if err := s.appendLedger(ctx, model.ActionMarkedForDeletion, userID, map[string]any{
		"scheduled_deletion_at": now.Add(s.pol.DeletionPeriod),
	}); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Service) appendLedger(ctx context.Context, action string, userID uuid.UUID, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return s.ledger.Append(ctx, model.RetentionLogEntry{
		Action:  action,
		UserID:  &userID,
		Details: raw,
	})
}
