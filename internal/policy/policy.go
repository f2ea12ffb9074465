// Package policy holds the retention thresholds every sweep reads. Values are
// static configuration: code defaults overridable from a YAML file.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Day is the unit all horizons are configured in.
const Day = 24 * time.Hour

// Policy maps each retention concern to its horizon. Dispositions (hard-delete
// vs anonymize) live in the entity manifest, not here.
type Policy struct {
	// WarningPeriod is how long after the last login a user is warned.
	WarningPeriod time.Duration
	// GracePeriod is how long after a warning the user is marked for deletion.
	GracePeriod time.Duration
	// DeletionPeriod is the reversible window after marking.
	DeletionPeriod time.Duration

	AccessTokenTTL  time.Duration // past expiry
	RefreshTokenTTL time.Duration // past expiry
	RevokedTokenTTL time.Duration // past revocation

	DisconnectedConnTTL time.Duration // past disconnection

	TransactionTTL  time.Duration // independent aging
	InsightTTL      time.Duration
	QueryHistoryTTL time.Duration
}

// Default returns the thresholds used when no file overrides them.
func Default() Policy {
	return Policy{
		WarningPeriod:       365 * Day,
		GracePeriod:         90 * Day,
		DeletionPeriod:      30 * Day,
		AccessTokenTTL:      30 * Day,
		RefreshTokenTTL:     90 * Day,
		RevokedTokenTTL:     7 * Day,
		DisconnectedConnTTL: 90 * Day,
		TransactionTTL:      7 * 365 * Day,
		InsightTTL:          2 * 365 * Day,
		QueryHistoryTTL:     365 * Day,
	}
}

// file mirrors the YAML layout; zero values mean "keep the default".
type file struct {
	WarningDays          int `yaml:"warning_days"`
	GraceDays            int `yaml:"grace_days"`
	DeletionDays         int `yaml:"deletion_days"`
	AccessTokenDays      int `yaml:"access_token_days"`
	RefreshTokenDays     int `yaml:"refresh_token_days"`
	RevokedTokenDays     int `yaml:"revoked_token_days"`
	DisconnectedConnDays int `yaml:"disconnected_connection_days"`
	TransactionDays      int `yaml:"transaction_days"`
	InsightDays          int `yaml:"insight_days"`
	QueryHistoryDays     int `yaml:"query_history_days"`
}

// Load reads overrides from path on top of Default. Empty path returns the
// defaults unchanged.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	apply := func(dst *time.Duration, days int) {
		if days != 0 {
			*dst = time.Duration(days) * Day
		}
	}
	apply(&p.WarningPeriod, f.WarningDays)
	apply(&p.GracePeriod, f.GraceDays)
	apply(&p.DeletionPeriod, f.DeletionDays)
	apply(&p.AccessTokenTTL, f.AccessTokenDays)
	apply(&p.RefreshTokenTTL, f.RefreshTokenDays)
	apply(&p.RevokedTokenTTL, f.RevokedTokenDays)
	apply(&p.DisconnectedConnTTL, f.DisconnectedConnDays)
	apply(&p.TransactionTTL, f.TransactionDays)
	apply(&p.InsightTTL, f.InsightDays)
	apply(&p.QueryHistoryTTL, f.QueryHistoryDays)
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects non-positive horizons; a zero horizon would turn a sweep
// into a full wipe.
func (p Policy) Validate() error {
	for _, c := range []struct {
		name string
		d    time.Duration
	}{
		{"warning", p.WarningPeriod},
		{"grace", p.GracePeriod},
		{"deletion", p.DeletionPeriod},
		{"access_token", p.AccessTokenTTL},
		{"refresh_token", p.RefreshTokenTTL},
		{"revoked_token", p.RevokedTokenTTL},
		{"disconnected_connection", p.DisconnectedConnTTL},
		{"transaction", p.TransactionTTL},
		{"insight", p.InsightTTL},
		{"query_history", p.QueryHistoryTTL},
	} {
		if c.d <= 0 {
			return fmt.Errorf("policy: %s horizon must be positive, got %s", c.name, c.d)
		}
	}
	return nil
}
