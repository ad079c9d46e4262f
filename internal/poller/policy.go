package poller

import (
	"math"
	"time"
)

// Policy is the poller's retry policy value object. Keeping it as one
// explicit value makes the backoff math testable in isolation.
type Policy struct {
	BaseInterval         time.Duration // delay between polls before backoff
	MaxAttempts          int           // polling attempts before giving up
	MaxConsecutiveErrors int           // transient failures tolerated in a row
	BackoffMultiplier    float64       // growth factor applied every BackoffStep attempts
	BackoffStep          int           // attempts per growth step
	MaxInterval          time.Duration // backoff ceiling
	TransientDelay       time.Duration // fixed delay after a transient failure
	ExpectedDuration     time.Duration // expected job duration, drives progress estimation
}

func DefaultPolicy() Policy {
	return Policy{
		BaseInterval:         2000 * time.Millisecond,
		MaxAttempts:          300,
		MaxConsecutiveErrors: 3,
		BackoffMultiplier:    1.3,
		BackoffStep:          15,
		MaxInterval:          8000 * time.Millisecond,
		TransientDelay:       2000 * time.Millisecond,
		ExpectedDuration:     3 * time.Minute,
	}
}

// normalized fills zero fields with defaults so a partially specified
// policy still behaves.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.BaseInterval <= 0 {
		p.BaseInterval = def.BaseInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MaxConsecutiveErrors <= 0 {
		p.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	if p.BackoffStep <= 0 {
		p.BackoffStep = def.BackoffStep
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.TransientDelay <= 0 {
		p.TransientDelay = def.TransientDelay
	}
	if p.ExpectedDuration <= 0 {
		p.ExpectedDuration = def.ExpectedDuration
	}
	return p
}

// Delay computes the poll delay after the given number of successful
// attempts. The delay grows by the multiplier once per step and is
// capped at MaxInterval, amortizing load for long jobs without
// starving fast ones.
func (p Policy) Delay(attempts int) time.Duration {
	growth := math.Pow(p.BackoffMultiplier, float64(attempts/p.BackoffStep))
	d := time.Duration(float64(p.BaseInterval) * growth)
	if d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}
