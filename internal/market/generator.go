package market

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	trendFlipProbability = 0.05
	volumeStepRange      = 20
	withTrendProbability = 0.7
	shockProbability     = 0.1
	shockRange           = 100
)

// Generator advances the registry's random walk. It owns no state of its
// own; all draws happen under the registry lock.
type Generator struct {
	reg   *Registry
	clock Clock
}

// NewGenerator creates a Generator over reg. A nil clock uses the wall clock.
func NewGenerator(reg *Registry, clock Clock) *Generator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Generator{reg: reg, clock: clock}
}

// Registry returns the registry the generator mutates.
func (g *Generator) Registry() *Registry {
	return g.reg
}

// Advance moves one instrument forward by one step and returns its new tick.
func (g *Generator) Advance(id string) (domain.Tick, error) {
	var (
		tick domain.Tick
		err  error
	)
	now := g.clock.Now()
	g.reg.withLock(func() {
		st, ok := g.reg.states[id]
		if !ok {
			err = fmt.Errorf("market: advance %q: %w", id, domain.ErrNotFound)
			return
		}
		step(st, g.reg.rnd)
		g.reg.updatedAt = now
		tick = st.tick(now)
	})
	return tick, err
}

// Cycle advances every instrument once, in catalog order, and returns the
// resulting batch. The whole cycle runs under one lock acquisition so the
// batch is a consistent view of a single generation step.
func (g *Generator) Cycle() []domain.Tick {
	now := g.clock.Now()
	var out []domain.Tick
	g.reg.withLock(func() {
		out = make([]domain.Tick, 0, len(g.reg.order))
		for _, id := range g.reg.order {
			st := g.reg.states[id]
			step(st, g.reg.rnd)
			out = append(out, st.tick(now))
		}
		g.reg.updatedAt = now
	})
	return out
}

// step applies one random-walk step. Price has no floor or ceiling.
func step(st *instrumentState, rnd Rand) {
	if rnd.Float64() < trendFlipProbability {
		st.trend = st.trend.Flip()
	}

	st.price += rnd.Float64() * st.spec.Volatility * float64(st.trend)

	magnitude := int64(math.Floor(rnd.Float64() * volumeStepRange))
	sign := int64(st.trend)
	if rnd.Float64() >= withTrendProbability {
		sign = -sign
	}
	st.volume += magnitude * sign

	if rnd.Float64() < shockProbability {
		shock := int64(math.Floor(rnd.Float64() * shockRange))
		if rnd.Float64() < 0.5 {
			st.volume += shock
		} else {
			st.volume -= shock
		}
	}
}

// Generated reports when the last cycle or advance ran. Zero means never.
func (g *Generator) Generated() time.Time {
	var t time.Time
	g.reg.withLock(func() { t = g.reg.updatedAt })
	return t
}
