package courier

import (
	"errors"
	"fmt"
	"time"
)

// MaxBatchSize caps Config.BatchSize. A batch fans out one goroutine per
// intent, so the cap also bounds per-instance concurrency.
const MaxBatchSize = 1000

// Config holds tuning for the dispatch engine and its maintenance sweeps.
type Config struct {
	// BatchSize is the maximum number of intents claimed per poll cycle.
	// It is also the fan-out bound for one cycle.
	BatchSize int `toml:"batch_size"`

	// PollInterval is the sleep between poll cycles.
	PollInterval time.Duration `toml:"poll_interval"`

	// MaxBackoff caps the sleep after consecutive queue store errors.
	MaxBackoff time.Duration `toml:"max_backoff"`

	// ClaimTimeout is how long an intent may stay claimed without being
	// processed before the reclaim sweep returns it to pending.
	ClaimTimeout time.Duration `toml:"claim_timeout"`

	// ReclaimSchedule is the cron expression for the reclaim sweep.
	ReclaimSchedule string `toml:"reclaim_schedule"`

	// Retention is how long processed intents are kept before purge.
	Retention time.Duration `toml:"retention"`

	// PurgeSchedule is the cron expression for the retention purge.
	PurgeSchedule string `toml:"purge_schedule"`

	// ReportSchedule is the cron expression for the periodic health
	// report. Empty disables the report.
	ReportSchedule string `toml:"report_schedule"`

	// ShutdownTimeout is the drain grace period for in-flight batches.
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`

	// ItemTimeout bounds token lookup, delivery and reconciliation of a
	// single intent.
	ItemTimeout time.Duration `toml:"item_timeout"`

	// TokenFreshness is the horizon after which a token that has not been
	// refreshed by its device is no longer considered active.
	TokenFreshness time.Duration `toml:"token_freshness"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		PollInterval:    1 * time.Second,
		MaxBackoff:      1 * time.Minute,
		ClaimTimeout:    15 * time.Minute,
		ReclaimSchedule: "@every 10m",
		Retention:       7 * 24 * time.Hour,
		PurgeSchedule:   "@hourly",
		ReportSchedule:  "@every 5m",
		ShutdownTimeout: 30 * time.Second,
		ItemTimeout:     30 * time.Second,
		TokenFreshness:  60 * 24 * time.Hour,
	}
}

// Validate reports every out-of-range field. The returned error wraps
// ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size must be in [1, %d], got %d", MaxBatchSize, c.BatchSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxBackoff < c.PollInterval {
		errs = append(errs, fmt.Errorf("max_backoff (%s) must be >= poll_interval (%s)", c.MaxBackoff, c.PollInterval))
	}
	if c.ClaimTimeout <= 0 {
		errs = append(errs, fmt.Errorf("claim_timeout must be positive, got %s", c.ClaimTimeout))
	}
	if c.ItemTimeout <= 0 {
		errs = append(errs, fmt.Errorf("item_timeout must be positive, got %s", c.ItemTimeout))
	} else if c.ClaimTimeout > 0 && c.ItemTimeout >= c.ClaimTimeout {
		// An item still in flight must never look abandoned.
		errs = append(errs, fmt.Errorf("item_timeout (%s) must be < claim_timeout (%s)", c.ItemTimeout, c.ClaimTimeout))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.TokenFreshness <= 0 {
		errs = append(errs, fmt.Errorf("token_freshness must be positive, got %s", c.TokenFreshness))
	}
	if c.ReclaimSchedule == "" {
		errs = append(errs, errors.New("reclaim_schedule must not be empty"))
	}
	if c.PurgeSchedule == "" {
		errs = append(errs, errors.New("purge_schedule must not be empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
