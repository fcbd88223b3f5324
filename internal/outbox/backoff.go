package outbox

import (
	"math/rand"
	"time"
)

const (
	defaultBaseDelay    = 30 * time.Second
	defaultMaxDelay     = 30 * time.Minute
	defaultJitterFactor = 0.2
)

// BackoffStrategy decides when a failed record becomes eligible for its next
// publish attempt.
type BackoffStrategy interface {
	NextAttemptAt(attempt int) time.Time
}

// ExponentialBackoff doubles the delay per attempt up to MaxDelay and spreads
// attempts with random jitter so a recovering broker is not hit by the whole
// backlog at once.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultBackoffStrategy returns the backoff used when none is configured.
func DefaultBackoffStrategy() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    defaultBaseDelay,
		MaxDelay:     defaultMaxDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// Delay returns the raw delay for the given attempt, jitter included.
// Attempts are 1-based; anything below 1 is treated as the first attempt.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	if b.JitterFactor > 0 {
		jitter := float64(delay) * b.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * jitter)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (b *ExponentialBackoff) NextAttemptAt(attempt int) time.Time {
	return time.Now().UTC().Add(b.Delay(attempt))
}
