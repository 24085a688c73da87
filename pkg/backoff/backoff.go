// Package backoff provides a small exponential backoff policy used by
// clients that reconnect to the guide server.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes exponential delays with optional jitter.
// The zero value is not usable; create one with New.
type Policy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration

	// Max caps the delay growth.
	Max time.Duration

	// Multiplier scales the delay per attempt (> 1).
	Multiplier float64

	// Jitter adds up to this fraction of the delay randomly (0.0-1.0),
	// spreading out thundering-herd reconnects.
	Jitter float64
}

// New returns a policy with common reconnect defaults:
// 500ms initial, doubling, capped at 30s, 20% jitter.
func New() Policy {
	return Policy{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}

	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}

	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}
