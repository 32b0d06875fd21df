package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/inago/internal/feed"
	"github.com/alanyoungcy/inago/internal/hub"
	"github.com/alanyoungcy/inago/internal/market"
	"github.com/alanyoungcy/inago/internal/server"
	"github.com/alanyoungcy/inago/internal/server/handler"
)

const shutdownTimeout = 5 * time.Second

// simulation is the generator side of the service.
type simulation struct {
	registry  *market.Registry
	generator *market.Generator
	hub       *hub.Hub
	resetter  *market.Resetter
}

// SimulateMode runs the tick generator, the distribution hub, the volume
// resetter and the HTTP server.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	sim, err := a.newSimulation(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startSimulation(ctx, g, sim)
	a.startHTTPServer(ctx, g, deps, sim, nil)
	return g.Wait()
}

// FeedMode runs the upstream feed adapter and the HTTP server.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")

	adapter, err := a.newAdapter(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps, adapter)
	a.startHTTPServer(ctx, g, deps, nil, adapter)
	return g.Wait()
}

// FullMode runs the simulation and the upstream feed side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sim, err := a.newSimulation(ctx, deps)
	if err != nil {
		return err
	}
	adapter, err := a.newAdapter(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startSimulation(ctx, g, sim)
	a.startFeed(ctx, g, deps, adapter)
	a.startHTTPServer(ctx, g, deps, sim, adapter)
	return g.Wait()
}

func (a *App) newSimulation(ctx context.Context, deps *Dependencies) (*simulation, error) {
	specs, err := deps.Catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}
	if err := market.ValidateCatalog(specs); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	seed := a.cfg.Simulator.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	reg, err := market.NewRegistry(specs, market.NewRand(seed))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "catalog loaded",
		slog.Int("instruments", reg.Len()),
		slog.Int64("seed", seed),
	)

	var opts []hub.Option
	if deps.TickSink != nil {
		opts = append(opts, hub.WithTickSink(deps.TickSink))
	}
	gen := market.NewGenerator(reg, market.SystemClock{})
	h := hub.New(gen, hub.Config{
		Period:         a.cfg.Simulator.GenerationPeriod.Duration,
		WindowWidth:    a.cfg.Window.Width.Duration,
		WindowCapacity: a.cfg.Window.Capacity,
		Prefill:        a.cfg.Window.Prefill,
	}, a.logger, opts...)

	return &simulation{
		registry:  reg,
		generator: gen,
		hub:       h,
		resetter:  market.NewResetter(reg, a.cfg.Simulator.ResetPeriod.Duration, a.logger),
	}, nil
}

func (a *App) startSimulation(ctx context.Context, g *errgroup.Group, sim *simulation) {
	g.Go(func() error {
		return sim.resetter.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		sim.hub.Close()
		return nil
	})
}

func (a *App) newAdapter(deps *Dependencies) (*feed.Adapter, error) {
	fc := a.cfg.Feed
	logger := a.logger.With(slog.String("mode_part", "feed"))

	opts := []feed.Option{
		feed.WithHandler(feed.NewQuoteRecorder(deps.QuoteCache, nil, a.logger)),
		feed.OnStateChange(func(s feed.State) {
			logger.Info("feed state changed", slog.String("state", s.String()))
		}),
		feed.OnError(func(err error) {
			logger.Warn("feed error", slog.String("error", err.Error()))
		}),
		feed.OnNetVolume(func(u feed.NetVolumeUpdate) {
			logger.Debug("net volume",
				slog.String("instrument", u.Instrument),
				slog.Float64("net_volume", u.NetVolume),
			)
		}),
	}
	var sinks []feed.AuditLog
	if deps.AuditStore != nil {
		sinks = append(sinks, deps.AuditStore)
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, deps.Notifier)
	}
	if len(sinks) > 0 {
		opts = append(opts, feed.WithAuditLog(feed.TeeAudit(sinks...)))
	}

	adapter := feed.New(
		feed.NewAuthClient(fc.APIURL, fc.AuthTimeout.Duration),
		feed.WSDialer{HubURL: fc.MarketHubURL, HandshakeTimeout: fc.ConnectTimeout.Duration},
		feed.Config{
			Backoff: feed.Backoff{
				Min:    fc.BackoffMin.Duration,
				Max:    fc.BackoffMax.Duration,
				Factor: fc.BackoffFactor,
				Jitter: fc.BackoffJitter,
			},
			MaxAttempts:    fc.MaxAttempts,
			ConnectTimeout: fc.ConnectTimeout.Duration,
			PingInterval:   fc.PingInterval.Duration,
			WindowWidth:    a.cfg.Window.Width.Duration,
			WindowCapacity: a.cfg.Window.Capacity,
		},
		a.logger,
		opts...,
	)

	// Queued before Run; replayed on the first connect.
	for _, id := range fc.Instruments {
		if err := adapter.Subscribe(id); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	if fc.Select != "" {
		if err := adapter.Follow(fc.Select); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return adapter, nil
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, adapter *feed.Adapter) {
	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(ctx)
		})
	}
	g.Go(func() error {
		return adapter.Run(ctx, feed.Credentials{
			Username: a.cfg.Feed.Username,
			APIKey:   a.cfg.Feed.APIKey,
		})
	})
}

// startHTTPServer adds the HTTP server and its shutdown watcher to g. sim and
// adapter are nil when their side is not running.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	sim *simulation,
	adapter *feed.Adapter,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
	}
	if sim != nil {
		handlers.Markets = handler.NewMarketHandler(sim.registry, a.logger)
		handlers.Simulator = handler.NewSimulatorHandler(sim.registry, sim.generator, sim.hub, a.logger)
		handlers.WS = sim.hub.HandleWS
	}
	if adapter != nil {
		handlers.Feed = handler.NewFeedHandler(adapter, deps.QuoteCache, deps.AuditStore, a.logger)
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:         sc.Port,
		CORSOrigins:  sc.CORSOrigins,
		APIKey:       sc.APIKey,
		ReadTimeout:  sc.ReadTimeout.Duration,
		WriteTimeout: sc.WriteTimeout.Duration,
		IdleTimeout:  sc.IdleTimeout.Duration,
	}, handlers, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
