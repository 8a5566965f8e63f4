package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	b := &Backoff{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(60))
	assert.Equal(t, time.Second, b.Delay(0))
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := &Backoff{InitialInterval: time.Second, MaxInterval: 10 * time.Second, MaxJitter: time.Second}

	for i := 0; i < 200; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestBackoffStopsAfterMaxAttempts(t *testing.T) {
	b := &Backoff{MaxAttempts: 3, InitialInterval: time.Millisecond}

	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
}

func TestBackoffDrivesRetry(t *testing.T) {
	b := &Backoff{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	attempts := 0
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("down")
	}, backoff.WithBackOff(b), backoff.WithMaxTries(4))

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}
