package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

// instrumentState is the mutable simulation state of one instrument.
type instrumentState struct {
	spec   domain.InstrumentSpec
	price  float64
	trend  domain.Trend
	volume int64
}

func (s *instrumentState) tick(at time.Time) domain.Tick {
	return domain.Tick{
		InstrumentID:     s.spec.ID,
		Name:             s.spec.Name,
		Price:            s.price,
		CumulativeVolume: s.volume,
		IsPositive:       s.volume >= 0,
		GeneratedAt:      at,
	}
}

// Registry holds the catalog and the per-instrument simulation state. Every
// read and write goes through mu, so a generation cycle and a volume reset
// never interleave and snapshots never mix two cycles.
type Registry struct {
	mu        sync.Mutex
	order     []string
	states    map[string]*instrumentState
	rnd       Rand
	updatedAt time.Time
	resets    int64
}

// NewRegistry creates the registry from a validated catalog. Prices start at
// the base price, volumes at zero, and each trend is drawn from rnd.
func NewRegistry(specs []domain.InstrumentSpec, rnd Rand) (*Registry, error) {
	if err := ValidateCatalog(specs); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = NewRand(0)
	}

	r := &Registry{
		order:  make([]string, 0, len(specs)),
		states: make(map[string]*instrumentState, len(specs)),
		rnd:    rnd,
	}
	for _, spec := range specs {
		r.order = append(r.order, spec.ID)
		r.states[spec.ID] = &instrumentState{
			spec:  spec,
			price: spec.BasePrice,
			trend: drawTrend(rnd),
		}
	}
	return r, nil
}

func drawTrend(rnd Rand) domain.Trend {
	if rnd.Float64() > 0.5 {
		return domain.TrendUp
	}
	return domain.TrendDown
}

// Catalog returns the public catalog in registration order.
func (r *Registry) Catalog() []domain.Contract {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Contract, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.states[id].spec.Contract())
	}
	return out
}

// Specs returns the catalog entries in registration order.
func (r *Registry) Specs() []domain.InstrumentSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.InstrumentSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.states[id].spec)
	}
	return out
}

// Len returns the number of instruments.
func (r *Registry) Len() int {
	return len(r.order)
}

// Has reports whether id is in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.states[id]
	return ok
}

// Snapshot returns the current state of every instrument, all taken under
// one lock acquisition.
func (r *Registry) Snapshot() []domain.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Tick, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.states[id].tick(r.updatedAt))
	}
	return out
}

// Quote returns the current state of one instrument.
func (r *Registry) Quote(id string) (domain.Tick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return domain.Tick{}, fmt.Errorf("market: quote %q: %w", id, domain.ErrNotFound)
	}
	return st.tick(r.updatedAt), nil
}

// Trend returns the current trend of one instrument.
func (r *Registry) Trend(id string) (domain.Trend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return 0, fmt.Errorf("market: trend %q: %w", id, domain.ErrNotFound)
	}
	return st.trend, nil
}

// ResetVolumes sets every cumulative volume to exactly zero.
func (r *Registry) ResetVolumes() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range r.states {
		st.volume = 0
	}
	r.resets++
}

// Resets returns how many volume resets have run.
func (r *Registry) Resets() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// Reset restores every instrument to its initial condition: base price,
// zero volume and a freshly drawn trend.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		st := r.states[id]
		st.price = st.spec.BasePrice
		st.volume = 0
		st.trend = drawTrend(r.rnd)
	}
	r.updatedAt = time.Time{}
}

// withLock runs fn while holding the registry lock.
func (r *Registry) withLock(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}
