package scheduler

import (
	"time"

	"github.com/smallbiznis/settlement/internal/config"
)

// Config controls loop intervals, batch sizes and timeouts.
type Config struct {
	EnabledJobs       []string
	ReconcileInterval time.Duration
	ConfirmInterval   time.Duration
	ExpiryInterval    time.Duration
	DeliveryInterval  time.Duration
	RecoveryInterval  time.Duration
	ExpiryBatchSize   int
	ConfirmBatchSize  int
	JobTimeout        time.Duration
	ReconcileLockTTL  time.Duration
	// MaxRetryBackoff caps the wait after consecutive transient failures.
	MaxRetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Second,
		ConfirmInterval:   10 * time.Second,
		ExpiryInterval:    15 * time.Second,
		DeliveryInterval:  2 * time.Second,
		RecoveryInterval:  time.Minute,
		ExpiryBatchSize:   200,
		ConfirmBatchSize:  100,
		JobTimeout:        30 * time.Second,
		ReconcileLockTTL:  time.Minute,
		MaxRetryBackoff:   2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		EnabledJobs:       cfg.Workers.EnabledJobs,
		ReconcileInterval: cfg.Workers.ReconcileInterval,
		ConfirmInterval:   cfg.Workers.ConfirmInterval,
		ExpiryInterval:    cfg.Workers.ExpiryInterval,
		DeliveryInterval:  cfg.Workers.DeliveryInterval,
		RecoveryInterval:  cfg.Workers.RecoveryInterval,
		ExpiryBatchSize:   cfg.Workers.ExpiryBatchSize,
		ConfirmBatchSize:  cfg.Workers.ConfirmBatchSize,
		JobTimeout:        cfg.Workers.JobTimeout,
		ReconcileLockTTL:  cfg.Workers.ReconcileLockTTL,
		MaxRetryBackoff:   cfg.Workers.MaxRetryBackoff,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaults.ReconcileInterval
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = defaults.ConfirmInterval
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = defaults.ExpiryInterval
	}
	if c.DeliveryInterval <= 0 {
		c.DeliveryInterval = defaults.DeliveryInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaults.RecoveryInterval
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	if c.ConfirmBatchSize <= 0 {
		c.ConfirmBatchSize = defaults.ConfirmBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReconcileLockTTL <= 0 {
		c.ReconcileLockTTL = defaults.ReconcileLockTTL
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	return c
}
