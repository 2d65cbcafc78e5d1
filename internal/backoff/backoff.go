// Package backoff computes the compounding cooldown windows used by the
// credential vault (C3) when an account crosses its consecutive-failure
// threshold, grounded on the exponential-backoff-with-jitter shape of
// the teacher's internal/core/resilience retry policy.
package backoff

import (
	"math/rand"
	"time"
)

// Policy describes a doubling backoff bounded by a ceiling.
type Policy struct {
	Base    time.Duration
	Ceiling time.Duration
	Jitter  bool
}

// DefaultPolicy mirrors spec.md §4.3: cooldowns grow on repeated entries,
// bounded (e.g. doubling up to a ceiling).
func DefaultPolicy() Policy {
	return Policy{Base: 1 * time.Second, Ceiling: 5 * time.Minute, Jitter: true}
}

// Duration returns the backoff for the nth consecutive cooldown entry
// (n starts at 1), doubling each time up to Ceiling.
func (p Policy) Duration(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.Ceiling {
			d = p.Ceiling
			break
		}
	}
	if d > p.Ceiling {
		d = p.Ceiling
	}
	if p.Jitter {
		jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
		d += jitter
		if d > p.Ceiling {
			d = p.Ceiling
		}
	}
	return d
}
