// Package hub fans generated tick batches out to connected consumers. Each
// consumer gets its own delivery loop driving the shared generator.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
	"github.com/alanyoungcy/inago/internal/market"
	"github.com/alanyoungcy/inago/internal/window"
)

// Event names on the consumer stream.
const (
	EventContracts    = "contracts"
	EventMarketData   = "market_data"
	EventVolumeSeries = "volume_series"
	EventError        = "error"
)

// Event is one message on the consumer stream.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// VolumeSeries is the payload of a volume_series event.
type VolumeSeries struct {
	Instrument string          `json:"instrument"`
	Buckets    []domain.Bucket `json:"buckets"`
}

// Conn is the transport side of one consumer. Send must not block; a
// transport that cannot accept the event returns an error and the consumer
// is dropped. Close may be called more than once.
type Conn interface {
	ID() string
	Send(Event) error
	Close()
}

// Config controls delivery cadence and the per-consumer volume window.
type Config struct {
	Period         time.Duration
	WindowWidth    time.Duration
	WindowCapacity int
	Prefill        int
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = time.Second
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = window.DefaultWidth
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = window.DefaultCapacity
	}
	return c
}

type consumer struct {
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	latest   []domain.Tick
	selected string
	agg      *window.Aggregator
}

// Hub tracks connected consumers and their delivery loops.
type Hub struct {
	gen    *market.Generator
	reg    *market.Registry
	sink   domain.TickSink
	cfg    Config
	clock  window.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	consumers map[string]*consumer
}

// Option customises a Hub.
type Option func(*Hub)

// WithTickSink hands every delivered batch to sink as well. Sink errors are
// logged and never affect delivery.
func WithTickSink(sink domain.TickSink) Option {
	return func(h *Hub) { h.sink = sink }
}

// WithClock overrides the clock used to prefill volume windows.
func WithClock(clock window.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// New creates a Hub driving gen.
func New(gen *market.Generator, cfg Config, logger *slog.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		gen:       gen,
		reg:       gen.Registry(),
		cfg:       cfg.withDefaults(),
		clock:     market.SystemClock{},
		logger:    logger.With(slog.String("component", "hub")),
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]*consumer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect sends the catalog to conn and starts its delivery loop. A consumer
// already registered under the same id is disconnected first.
func (h *Hub) Connect(conn Conn) error {
	if h.ctx.Err() != nil {
		conn.Close()
		return fmt.Errorf("hub: connect %s: %w", conn.ID(), domain.ErrClosed)
	}
	if err := conn.Send(Event{Name: EventContracts, Data: h.reg.Catalog()}); err != nil {
		conn.Close()
		return fmt.Errorf("hub: send contracts to %s: %w", conn.ID(), err)
	}

	h.Disconnect(conn.ID())

	ctx, cancel := context.WithCancel(h.ctx)
	c := &consumer{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		agg:    window.New(h.cfg.WindowWidth, h.cfg.WindowCapacity, h.clock),
	}

	// Close snapshots the registry under mu after cancelling, so checking
	// ctx again here means either Close sees c or c is never added.
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("hub: connect %s: %w", conn.ID(), domain.ErrClosed)
	}
	h.consumers[conn.ID()] = c
	total := len(h.consumers)
	h.mu.Unlock()

	go h.deliveryLoop(ctx, c)

	h.logger.Info("consumer connected",
		slog.String("consumer", conn.ID()),
		slog.Int("total_consumers", total),
	)
	return nil
}

// Disconnect stops delivery to the consumer and closes its transport. When
// it returns no further event will be sent to that consumer. Unknown ids are
// ignored.
func (h *Hub) Disconnect(id string) {
	c := h.detach(id, nil)
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
	c.conn.Close()

	h.logger.Info("consumer disconnected",
		slog.String("consumer", id),
		slog.Int("total_consumers", h.Count()),
	)
}

// detach removes id from the registry. When want is non-nil only that exact
// consumer is removed.
func (h *Hub) detach(id string, want *consumer) *consumer {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.consumers[id]
	if !ok || (want != nil && c != want) {
		return nil
	}
	delete(h.consumers, id)
	return c
}

func (h *Hub) deliveryLoop(ctx context.Context, c *consumer) {
	defer close(c.done)

	ticker := time.NewTicker(h.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		if err := h.deliver(ctx, c); err != nil {
			h.logger.Warn("delivery failed, dropping consumer",
				slog.String("consumer", c.conn.ID()),
				slog.String("error", err.Error()),
			)
			if h.detach(c.conn.ID(), c) != nil {
				c.conn.Close()
			}
			return
		}
	}
}

// deliver runs one generation cycle and sends the batch to c.
func (h *Hub) deliver(ctx context.Context, c *consumer) error {
	batch := h.gen.Cycle()

	if h.sink != nil {
		if err := h.sink.PublishTicks(ctx, batch); err != nil {
			h.logger.Warn("tick sink publish failed", slog.String("error", err.Error()))
		}
	}

	if err := c.conn.Send(Event{Name: EventMarketData, Data: batch}); err != nil {
		return err
	}

	c.mu.Lock()
	c.latest = batch
	series, ok, err := c.observe(batch)
	c.mu.Unlock()

	if err != nil {
		h.logger.Debug("volume sample ignored",
			slog.String("consumer", c.conn.ID()),
			slog.String("error", err.Error()),
		)
	}

	if ok {
		if err := c.conn.Send(Event{Name: EventVolumeSeries, Data: series}); err != nil {
			return err
		}
	}
	return nil
}

// observe feeds the selected instrument's volume into the consumer's
// window. An out-of-order sample leaves the window unchanged; the series is
// still returned along with the error. Callers hold c.mu.
func (c *consumer) observe(batch []domain.Tick) (VolumeSeries, bool, error) {
	if c.selected == "" {
		return VolumeSeries{}, false, nil
	}
	for _, t := range batch {
		if t.InstrumentID != c.selected {
			continue
		}
		buckets, err := c.agg.Ingest(float64(t.CumulativeVolume), t.GeneratedAt)
		return VolumeSeries{Instrument: c.selected, Buckets: buckets}, true, err
	}
	return VolumeSeries{}, false, nil
}

// Select makes the consumer chart instrument's cumulative volume. Changing
// the selection clears the consumer's window.
func (h *Hub) Select(consumerID, instrument string) error {
	if !h.reg.Has(instrument) {
		return fmt.Errorf("hub: select %q: %w", instrument, domain.ErrNotFound)
	}
	c := h.lookup(consumerID)
	if c == nil {
		return fmt.Errorf("hub: consumer %s: %w", consumerID, domain.ErrNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == instrument {
		return nil
	}
	c.selected = instrument
	c.agg.Reset()
	if h.cfg.Prefill > 0 {
		c.agg.Prefill(h.clock.Now(), h.cfg.Prefill)
	}
	return nil
}

// Latest returns the last batch delivered to the consumer.
func (h *Hub) Latest(consumerID string) ([]domain.Tick, bool) {
	c := h.lookup(consumerID)
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil, false
	}
	out := make([]domain.Tick, len(c.latest))
	copy(out, c.latest)
	return out, true
}

// Consumers returns the ids of the connected consumers, sorted.
func (h *Hub) Consumers() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.consumers))
	for id := range h.consumers {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of connected consumers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

func (h *Hub) lookup(id string) *consumer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consumers[id]
}

// Close disconnects every consumer. Later Connect calls fail with ErrClosed.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	ids := make([]string, 0, len(h.consumers))
	for id := range h.consumers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}
