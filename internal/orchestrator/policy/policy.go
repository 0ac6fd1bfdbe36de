// Package policy defines the tunable parameters of the engine: concurrency,
// retry and backoff, timeouts and result retention.
package policy

import "time"

// Config contains all configurable policy parameters for the engine.
type Config struct {
	Scheduling SchedulingPolicy
	Retry      RetryPolicy
	Timeouts   TimeoutPolicy
	Results    ResultPolicy
	Events     EventPolicy
}

// SchedulingPolicy controls admission.
type SchedulingPolicy struct {
	// MaxConcurrency is the maximum number of Running tasks per request.
	MaxConcurrency int
}

// RetryPolicy controls retry of transient task failures.
type RetryPolicy struct {
	// DefaultMaxRetries applies to tasks that declare no ceiling.
	DefaultMaxRetries int
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration
	// BackoffMax caps the delay.
	BackoffMax time.Duration
	// Jitter is the fraction of the delay randomized, in [0, 1).
	Jitter float64
}

// TimeoutPolicy controls per-task and per-request deadlines.
type TimeoutPolicy struct {
	// Task applies to tasks that declare no timeout.
	Task time.Duration
	// Request bounds a whole request; zero disables it.
	Request time.Duration
}

// ResultPolicy controls retention in the state store.
type ResultPolicy struct {
	// TTL is the lifetime of stored task results and finished request records.
	TTL time.Duration
}

// EventPolicy controls the event stream.
type EventPolicy struct {
	// BufferSize is the capacity of the engine's event channel.
	BufferSize int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Scheduling: SchedulingPolicy{
			MaxConcurrency: 4,
		},
		Retry: RetryPolicy{
			DefaultMaxRetries: 2,
			BackoffBase:       500 * time.Millisecond,
			BackoffMax:        30 * time.Second,
			Jitter:            0.2,
		},
		Timeouts: TimeoutPolicy{
			Task:    2 * time.Minute,
			Request: 10 * time.Minute,
		},
		Results: ResultPolicy{
			TTL: 24 * time.Hour,
		},
		Events: EventPolicy{
			BufferSize: 256,
		},
	}
}

// Normalize replaces out-of-range values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Scheduling.MaxConcurrency < 1 {
		c.Scheduling.MaxConcurrency = d.Scheduling.MaxConcurrency
	}
	if c.Retry.DefaultMaxRetries < 0 {
		c.Retry.DefaultMaxRetries = d.Retry.DefaultMaxRetries
	}
	if c.Retry.BackoffBase < 0 {
		c.Retry.BackoffBase = d.Retry.BackoffBase
	}
	if c.Retry.BackoffMax < c.Retry.BackoffBase {
		c.Retry.BackoffMax = c.Retry.BackoffBase
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		c.Retry.Jitter = d.Retry.Jitter
	}
	if c.Timeouts.Task <= 0 {
		c.Timeouts.Task = d.Timeouts.Task
	}
	if c.Timeouts.Request < 0 {
		c.Timeouts.Request = 0
	}
	if c.Results.TTL < 0 {
		c.Results.TTL = 0
	}
	if c.Events.BufferSize < 1 {
		c.Events.BufferSize = d.Events.BufferSize
	}
}
