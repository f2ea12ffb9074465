// Package notify defines the notification port. Delivery is an external
// collaborator; failures are logged, never propagated into a sweep.
package notify

import (
	"context"

	"github.com/finagg/retention/internal/model"
	"go.uber.org/zap"
)

// Sender delivers inactivity warnings.
type Sender interface {
	// SendInactivityWarning notifies the user that their account will be
	// scheduled for deletion unless they log in.
	SendInactivityWarning(ctx context.Context, u model.User) error
}

// LogSender is the default Sender: it records the warning and reports
// success. Real delivery is wired in by the host deployment.
type LogSender struct {
	Log *zap.Logger
}

// SendInactivityWarning logs the outgoing warning.
func (s *LogSender) SendInactivityWarning(_ context.Context, u model.User) error {
	s.Log.Info("inactivity warning",
		zap.String("user_id", u.ID.String()),
		zap.String("email", u.Email),
		zap.Time("last_login_at", u.LastLoginAt),
	)
	return nil
}
