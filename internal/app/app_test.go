package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/inago/internal/config"
	"github.com/alanyoungcy/inago/internal/feed"
	"github.com/alanyoungcy/inago/internal/market"
)

func testApp(t *testing.T, mutate func(*config.Config)) (*App, *Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulator.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return a, deps
}

func TestWireWithoutBackends(t *testing.T) {
	_, deps := testApp(t, nil)

	assert.IsType(t, &market.StaticCatalog{}, deps.Catalog)
	assert.IsType(t, &feed.QuoteBook{}, deps.QuoteCache)
	assert.Nil(t, deps.TickSink)
	assert.Nil(t, deps.AuditStore)
	assert.Empty(t, deps.Checks)
	assert.False(t, deps.Notifier.Enabled())
}

func TestNewSimulationUsesCatalog(t *testing.T) {
	a, deps := testApp(t, nil)

	sim, err := a.newSimulation(context.Background(), deps)
	require.NoError(t, err)
	defer sim.hub.Close()

	assert.Equal(t, len(market.DefaultCatalog()), sim.registry.Len())
	tick, err := sim.registry.Quote("ES")
	require.NoError(t, err)
	assert.Equal(t, 5200.0, tick.Price)

	require.NotNil(t, sim.generator)
	assert.Same(t, sim.registry, sim.generator.Registry())
	assert.True(t, sim.generator.Generated().IsZero())
	sim.generator.Cycle()
	assert.False(t, sim.generator.Generated().IsZero())
}

func TestNewAdapterQueuesSubscriptions(t *testing.T) {
	a, deps := testApp(t, func(c *config.Config) {
		c.Feed.Instruments = []string{"CON.F.US.EP.M25", "CON.F.US.ENQ.M25"}
		c.Feed.Select = "CON.F.US.MES.M25"
	})

	adapter, err := a.newAdapter(deps)
	require.NoError(t, err)
	defer adapter.Close()

	st := adapter.Status()
	assert.Equal(t, feed.StateUnauthenticated, st.State)
	assert.Equal(t, "CON.F.US.MES.M25", st.Selected)
	assert.ElementsMatch(t, []string{"CON.F.US.EP.M25", "CON.F.US.ENQ.M25", "CON.F.US.MES.M25"}, st.Subscriptions)
}

func TestSimulateModeStopsOnCancel(t *testing.T) {
	a, deps := testApp(t, func(c *config.Config) {
		c.Server.Enabled = false
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.SimulateMode(ctx, deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("simulate mode did not stop")
	}
}
