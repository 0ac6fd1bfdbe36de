package orchestrator

import (
	"math/rand/v2"
	"time"

	"github.com/ShayCichocki/docweave/internal/orchestrator/policy"
)

// backoff returns the delay before the given retry (1-based).
// The delay doubles per retry from BackoffBase, is capped at BackoffMax
// and randomized by up to Jitter in either direction.
func backoff(p policy.RetryPolicy, retry int) time.Duration {
	if retry < 1 || p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.BackoffMax {
			d = p.BackoffMax
			break
		}
	}
	if d > p.BackoffMax {
		d = p.BackoffMax
	}
	if p.Jitter > 0 {
		span := float64(d) * p.Jitter
		d = time.Duration(float64(d) - span + rand.Float64()*2*span)
	}
	return d
}
