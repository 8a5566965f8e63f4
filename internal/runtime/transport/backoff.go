package transport

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff is an exponential schedule with additive random jitter and a cap
// on attempts. It implements backoff.BackOff.
type Backoff struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxJitter bounds the random delay added to every wait.
	MaxJitter time.Duration

	attempt int
}

var _ backoff.BackOff = (*Backoff)(nil)

// Delay returns the wait before retry number attempt, counting from 1.
func (b *Backoff) Delay(attempt int) time.Duration {
	return b.base(attempt) + b.jitter()
}

func (b *Backoff) base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(b.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if b.MaxInterval > 0 && d > float64(b.MaxInterval) {
		return b.MaxInterval
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (b *Backoff) jitter() time.Duration {
	if b.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(b.MaxJitter)))
}

// NextBackOff returns backoff.Stop once MaxAttempts-1 waits were handed out.
func (b *Backoff) NextBackOff() time.Duration {
	b.attempt++
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return backoff.Stop
	}
	return b.Delay(b.attempt)
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
