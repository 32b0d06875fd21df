package market

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the random source behind the simulation. Implementations return
// values in [0, 1).
type Rand interface {
	Float64() float64
}

// Clock stamps generated batches.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// lockedRand guards a *rand.Rand for callers outside the registry lock.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed. A zero seed uses
// the current time.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
