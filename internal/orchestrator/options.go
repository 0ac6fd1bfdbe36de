package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/guard"
	"github.com/ShayCichocki/docweave/internal/orchestrator/policy"
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	policy         *policy.Config
	maxConcurrency int
	guard          *guard.Guard
	log            logrus.FieldLogger
	debug          *DebugLogger
	now            func() time.Time
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *engineOptions) { o.policy = p }
}

// WithMaxConcurrency overrides the policy's per-request concurrency limit.
func WithMaxConcurrency(n int) Option {
	return func(o *engineOptions) { o.maxConcurrency = n }
}

// WithGuard sets the capability guard applied to every committed output.
func WithGuard(g *guard.Guard) Option {
	return func(o *engineOptions) { o.guard = g }
}

// WithLogger sets the structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *engineOptions) { o.log = log }
}

// WithDebugLogger sets a file-backed scheduling trace.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.debug = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}
