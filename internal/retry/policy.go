package retry

import (
	"math"
	"time"
)

// Policy defines retry behavior for one operation.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	BaseDelay:      500 * time.Millisecond,
	MaxDelay:       30 * time.Second,
	Multiplier:     2.0,
	AttemptTimeout: 15 * time.Second,
}

// normalized clamps out-of-range fields. MaxAttempts below 1 becomes 1;
// MaxAttempts == 1 stays exactly 1 (no retrying).
func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	return p
}

// Delay computes the backoff before attempt n+1: BaseDelay * Multiplier^n,
// capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
