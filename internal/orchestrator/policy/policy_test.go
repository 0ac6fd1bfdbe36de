package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_IsNormal(t *testing.T) {
	c := Default()
	before := *c
	c.Normalize()
	assert.Equal(t, before, *c)
}

func TestNormalize_ReplacesOutOfRange(t *testing.T) {
	c := &Config{
		Scheduling: SchedulingPolicy{MaxConcurrency: 0},
		Retry:      RetryPolicy{DefaultMaxRetries: -1, BackoffBase: time.Second, BackoffMax: time.Millisecond, Jitter: 1.5},
		Timeouts:   TimeoutPolicy{Task: 0, Request: -time.Second},
		Results:    ResultPolicy{TTL: -time.Hour},
	}
	c.Normalize()

	d := Default()
	assert.Equal(t, d.Scheduling.MaxConcurrency, c.Scheduling.MaxConcurrency)
	assert.Equal(t, d.Retry.DefaultMaxRetries, c.Retry.DefaultMaxRetries)
	assert.Equal(t, time.Second, c.Retry.BackoffMax, "max is raised to base")
	assert.Equal(t, d.Retry.Jitter, c.Retry.Jitter)
	assert.Equal(t, d.Timeouts.Task, c.Timeouts.Task)
	assert.Zero(t, c.Timeouts.Request)
	assert.Zero(t, c.Results.TTL)
	assert.Equal(t, d.Events.BufferSize, c.Events.BufferSize)
}
