// Package backoff computes retry delays and the randomized pauses used to
// pace browser actions.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Defaults used when a Policy field is zero.
const (
	DefaultBase = 5 * time.Second
	DefaultCap  = 30 * time.Second

	// JitterFraction bounds jitter relative to the capped delay.
	JitterFraction = 0.1
)

// Delay returns min(base*2^attempt, cap) plus jitter drawn uniformly from
// [0, JitterFraction*capped]. attempt is zero-based; negative values are
// treated as zero.
func Delay(attempt int, base, cap time.Duration) time.Duration {
	return delay(attempt, base, cap, rand.Float64)
}

func delay(attempt int, base, cap time.Duration, random func() float64) time.Duration {
	capped := Capped(attempt, base, cap)
	jitter := time.Duration(random() * JitterFraction * float64(capped))
	return capped + jitter
}

// Capped returns min(base*2^attempt, cap) without jitter.
func Capped(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d > cap/2 {
			return cap
		}
		d *= 2
	}
	if d > cap {
		return cap
	}
	return d
}

// Policy is a Delay configuration bound to a base and cap.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base, cap := p.Base, p.Cap
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return Delay(attempt, base, cap)
}

// Human returns a uniformly random duration in [min, max], approximating
// the pause a person takes between actions.
func Human(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
