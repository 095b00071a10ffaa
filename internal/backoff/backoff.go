// Package backoff decides whether a failed job is retried or dead-lettered
// and how long a retry waits.
//
// The delay grows with the attempt number alone: base^nextAttempt seconds.
// It never depends on a previous delay, so a retry schedule can be recomputed
// from the stored attempt count.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultBase is used when the configured base is unusable.
const DefaultBase = 2.0

// maxDelay bounds computed delays so large exponents cannot overflow
// time.Duration or the epoch-seconds run_at column.
const maxDelay = time.Duration(math.MaxInt64 / 2)

// Decision is the outcome of the retry policy for one failure.
type Decision struct {
	// NextAttempt is the attempt count after this failure.
	NextAttempt int
	// Exhausted reports that the job must move to the dead-letter queue.
	Exhausted bool
	// Delay is how long the job waits before it is eligible again. Zero when
	// Exhausted.
	Delay time.Duration
}

// Decide applies the retry policy to a job that has failed attempts times
// before the current failure.
func Decide(attempts, maxRetries int, base float64) Decision {
	next := attempts + 1
	if next > maxRetries {
		return Decision{NextAttempt: next, Exhausted: true}
	}
	return Decision{NextAttempt: next, Delay: Delay(next, base)}
}

// Delay returns base^attempt seconds, rounded up to whole seconds.
func Delay(attempt int, base float64) time.Duration {
	if math.IsNaN(base) || math.IsInf(base, 0) || base < 1 {
		base = DefaultBase
	}
	seconds := math.Ceil(math.Pow(base, float64(attempt)))
	if math.IsInf(seconds, 0) || seconds >= maxDelay.Seconds() {
		return maxDelay.Truncate(time.Second)
	}
	return time.Duration(seconds) * time.Second
}

// Policy adjusts raw delays with an optional cap and jitter.
type Policy struct {
	// Max caps the delay. Zero leaves it uncapped.
	Max time.Duration
	// Jitter draws the delay uniformly from [delay/2, delay].
	Jitter bool
	// Float64 returns a value in [0, 1). Defaults to math/rand/v2.
	Float64 func() float64
}

// Decide applies the retry policy and then the cap and jitter.
func (p Policy) Decide(attempts, maxRetries int, base float64) Decision {
	d := Decide(attempts, maxRetries, base)
	if !d.Exhausted {
		d.Delay = p.Adjust(d.Delay)
	}
	return d
}

// Adjust caps and jitters a raw delay. The result is whole seconds and never
// below one second when delay was positive.
func (p Policy) Adjust(delay time.Duration) time.Duration {
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	if p.Jitter && delay > 0 {
		rnd := p.Float64
		if rnd == nil {
			rnd = rand.Float64 //nolint:gosec // jitter does not need crypto rand
		}
		half := float64(delay) / 2
		delay = time.Duration(half + rnd()*half)
	}
	if delay <= 0 {
		return delay
	}
	rounded := delay.Round(time.Second)
	if rounded < delay {
		rounded += time.Second
	}
	if rounded < time.Second {
		rounded = time.Second
	}
	return rounded
}
