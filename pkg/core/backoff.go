package core

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Sleeper abstracts the delay between attempts for deterministic tests.
type Sleeper interface {
	Sleep(time.Duration)
}

// FuncSleeper wraps a function to satisfy Sleeper.
type FuncSleeper func(time.Duration)

// Sleep implements the Sleeper interface.
func (f FuncSleeper) Sleep(d time.Duration) { f(d) }

// Backoff holds the retry parameters for one-shot startup calls against the
// API server. Event handling never retries through this: deferred events are
// replayed by the loop instead.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
	Sleeper     Sleeper
	Rand        func() float64
}

// StartupBackoff returns the configuration used while the operator comes up,
// sized for transient API server hiccups rather than long outages.
func StartupBackoff() Backoff {
	return Backoff{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

// Retry executes fn with exponential backoff until fn returns nil, the
// context is cancelled, or MaxAttempts have been exhausted. It returns the
// number of attempts executed and the last error from fn, if any.
func (b Backoff) Retry(ctx context.Context, fn func() error) (int, error) {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = 500 * time.Millisecond
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = time.Second
	}
	sleeper := b.Sleeper
	if sleeper == nil {
		sleeper = FuncSleeper(time.Sleep)
	}
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if attempt == b.MaxAttempts {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		delay := b.nextDelay(attempt)
		if b.Jitter > 0 {
			jitter := float64(delay) * b.Jitter * rnd()
			delay += time.Duration(jitter)
		}
		sleeper.Sleep(delay)
	}
	return b.MaxAttempts, nil
}

func (b Backoff) nextDelay(attempt int) time.Duration {
	exp := float64(attempt - 1)
	delay := float64(b.BaseDelay) * math.Pow(2, exp)
	max := float64(b.MaxDelay)
	if delay > max {
		delay = max
	}
	return time.Duration(delay)
}
