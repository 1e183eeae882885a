package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffCeilingDoublesUpToMax(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 8 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Ceiling(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, b.Ceiling(0))
	assert.Equal(t, 8*time.Second, b.Ceiling(500))
}

func TestBackoffFullJitter(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Rand: func() float64 { return 0.5 }}
	assert.Equal(t, 50*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(4))
	assert.Equal(t, 500*time.Millisecond, b.Delay(10))

	b.Rand = func() float64 { return 0 }
	assert.Zero(t, b.Delay(3))
}

func TestBackoffDelayStaysWithinCeiling(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 80 * time.Millisecond}
	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, b.Ceiling(attempt))
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))

	b.MaxAttempts = 0
	assert.False(t, b.Exhausted(1_000_000))
}
