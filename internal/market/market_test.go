package market

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/inago/internal/domain"
)

// scriptedRand replays a fixed sequence of draws.
type scriptedRand struct {
	t     *testing.T
	draws []float64
	next  int
}

func (s *scriptedRand) Float64() float64 {
	s.t.Helper()
	require.Less(s.t, s.next, len(s.draws), "random source exhausted")
	v := s.draws[s.next]
	s.next++
	return v
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func esOnly() []domain.InstrumentSpec {
	return []domain.InstrumentSpec{{ID: "ES", Name: "E-mini S&P 500", BasePrice: 5200, Volatility: 5}}
}

func TestAdvance_PriceFollowsTrend(t *testing.T) {
	rnd := &scriptedRand{t: t, draws: []float64{
		0.9, // trend: up
		0.9, // no flip
		0.6, // price draw: 0.6 * 5 = 3
		0.5, // magnitude: floor(10)
		0.1, // sign follows trend
		0.5, // no shock
	}}
	reg, err := NewRegistry(esOnly(), rnd)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	gen := NewGenerator(reg, fixedClock{at: at})

	tick, err := gen.Advance("ES")
	require.NoError(t, err)
	assert.InDelta(t, 5203.0, tick.Price, 1e-9)
	assert.Equal(t, int64(10), tick.CumulativeVolume)
	assert.True(t, tick.IsPositive)
	assert.Equal(t, at, tick.GeneratedAt)
	assert.Equal(t, at, gen.Generated())
}

func TestAdvance_FlipAndShock(t *testing.T) {
	rnd := &scriptedRand{t: t, draws: []float64{
		0.9,  // trend: up
		0.01, // flip to down
		0.2,  // price draw: -1
		0.25, // magnitude 5
		0.8,  // sign against trend: +5
		0.05, // shock
		0.42, // shock magnitude 42
		0.7,  // shock negative
	}}
	reg, err := NewRegistry(esOnly(), rnd)
	require.NoError(t, err)

	tick, err := NewGenerator(reg, nil).Advance("ES")
	require.NoError(t, err)
	assert.InDelta(t, 5199.0, tick.Price, 1e-9)
	assert.Equal(t, int64(-37), tick.CumulativeVolume)
	assert.False(t, tick.IsPositive)

	trend, err := reg.Trend("ES")
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDown, trend)
}

func TestAdvance_UnknownInstrument(t *testing.T) {
	reg, err := NewRegistry(esOnly(), NewRand(1))
	require.NoError(t, err)

	_, err = NewGenerator(reg, nil).Advance("ZZ")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCycle_OneTickPerInstrumentInCatalogOrder(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), NewRand(7))
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	batch := NewGenerator(reg, fixedClock{at: at}).Cycle()
	require.Len(t, batch, len(DefaultCatalog()))
	for i, spec := range DefaultCatalog() {
		assert.Equal(t, spec.ID, batch[i].InstrumentID)
		assert.Equal(t, spec.Name, batch[i].Name)
		assert.Equal(t, at, batch[i].GeneratedAt)
		assert.Equal(t, batch[i].CumulativeVolume >= 0, batch[i].IsPositive)
	}
	assert.Equal(t, batch, reg.Snapshot())
}

func TestCycle_ZeroVolatilityHoldsPrice(t *testing.T) {
	reg, err := NewRegistry([]domain.InstrumentSpec{{ID: "X", Name: "Flat", BasePrice: 10}}, NewRand(3))
	require.NoError(t, err)

	gen := NewGenerator(reg, nil)
	for i := 0; i < 50; i++ {
		gen.Cycle()
	}
	q, err := reg.Quote("X")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.Price)
}

func TestResetVolumes_ZeroesEveryInstrument(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), NewRand(11))
	require.NoError(t, err)
	gen := NewGenerator(reg, nil)

	for round := 0; round < 20; round++ {
		for i := 0; i < 7; i++ {
			gen.Cycle()
		}
		reg.ResetVolumes()
		for _, tick := range reg.Snapshot() {
			assert.Zero(t, tick.CumulativeVolume, "instrument %s round %d", tick.InstrumentID, round)
			assert.True(t, tick.IsPositive)
		}
	}
	assert.Equal(t, int64(20), reg.Resets())
}

func TestResetVolumes_SerialisedWithCycles(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), NewRand(5))
	require.NoError(t, err)
	gen := NewGenerator(reg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			gen.Cycle()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			reg.ResetVolumes()
		}
	}()
	wg.Wait()

	reg.ResetVolumes()
	for _, tick := range reg.Snapshot() {
		assert.Zero(t, tick.CumulativeVolume)
	}
}

func TestRegistry_Reset(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), NewRand(9))
	require.NoError(t, err)
	gen := NewGenerator(reg, nil)
	for i := 0; i < 10; i++ {
		gen.Cycle()
	}

	reg.Reset()
	for i, tick := range reg.Snapshot() {
		assert.Equal(t, DefaultCatalog()[i].BasePrice, tick.Price)
		assert.Zero(t, tick.CumulativeVolume)
		assert.True(t, tick.GeneratedAt.IsZero())
	}
}

func TestRegistry_CatalogAndQuote(t *testing.T) {
	reg, err := NewRegistry(DefaultCatalog(), NewRand(1))
	require.NoError(t, err)

	catalog := reg.Catalog()
	require.Len(t, catalog, 8)
	assert.Equal(t, domain.Contract{ID: "ES", Name: "E-mini S&P 500"}, catalog[0])
	assert.Equal(t, domain.Contract{ID: "MGC", Name: "Micro Gold"}, catalog[7])
	assert.True(t, reg.Has("CL"))
	assert.False(t, reg.Has("BTC"))

	q, err := reg.Quote("NQ")
	require.NoError(t, err)
	assert.Equal(t, 18500.0, q.Price)

	_, err = reg.Quote("BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidateCatalog(t *testing.T) {
	tests := []struct {
		name  string
		specs []domain.InstrumentSpec
		ok    bool
	}{
		{name: "default", specs: DefaultCatalog(), ok: true},
		{name: "empty", specs: nil},
		{name: "blank id", specs: []domain.InstrumentSpec{{ID: " ", BasePrice: 1}}},
		{name: "duplicate", specs: []domain.InstrumentSpec{{ID: "A"}, {ID: "A"}}},
		{name: "negative volatility", specs: []domain.InstrumentSpec{{ID: "A", Volatility: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCatalog(tt.specs)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestStaticCatalog_DefaultsAndCopies(t *testing.T) {
	specs, err := NewStaticCatalog(nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), specs)

	custom := []domain.InstrumentSpec{{ID: "A", Name: "Alpha", BasePrice: 1, Volatility: 1}}
	src := NewStaticCatalog(custom)
	custom[0].Name = "changed"
	got, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got[0].Name)
}

func TestResetter_Run(t *testing.T) {
	reg, err := NewRegistry(esOnly(), NewRand(2))
	require.NoError(t, err)
	NewGenerator(reg, nil).Cycle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan error, 1)
	go func() { done <- NewResetter(reg, 5*time.Millisecond, logger).Run(ctx) }()

	require.Eventually(t, func() bool { return reg.Resets() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	q, err := reg.Quote("ES")
	require.NoError(t, err)
	assert.Zero(t, q.CumulativeVolume)
}
