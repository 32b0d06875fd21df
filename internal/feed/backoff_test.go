package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_CappedExponential(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Next(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, b.Next(0))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 200; i++ {
		d := b.Next(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff{}.Next(1))
	assert.Equal(t, 200*time.Millisecond, Backoff{Max: time.Second}.Next(2))
}
