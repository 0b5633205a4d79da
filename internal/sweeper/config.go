// Package sweeper dispatches scheduled notifications once their time has come.
package sweeper

import (
	"time"
)

// DefaultLeaseKey is the Redis key guarding a sweep across worker replicas.
const DefaultLeaseKey = "pushgate:sweeper:lease"

// Config holds configuration for the schedule sweeper.
type Config struct {
	// Interval is the time between sweeps.
	// Default: 60 seconds
	Interval time.Duration

	// BatchSize is the maximum number of due notifications claimed per sweep.
	// Default: 100
	BatchSize int

	// Concurrency is the number of notifications dispatched in parallel.
	// Default: 4
	Concurrency int

	// Timeout bounds the dispatch of a single notification.
	// Default: 30 seconds
	Timeout time.Duration

	// LeaseKey and LeaseTTL configure the cross-replica sweep lease.
	// LeaseTTL should exceed the longest expected sweep.
	// Default: DefaultLeaseKey, 2 minutes
	LeaseKey string
	LeaseTTL time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		BatchSize:   100,
		Concurrency: 4,
		Timeout:     30 * time.Second,
		LeaseKey:    DefaultLeaseKey,
		LeaseTTL:    2 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.LeaseKey == "" {
		c.LeaseKey = d.LeaseKey
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	return c
}
