package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/inago/internal/domain"
	"github.com/alanyoungcy/inago/internal/window"
)

const (
	defaultMaxAttempts    = 10
	defaultConnectTimeout = 15 * time.Second
	defaultPingInterval   = 15 * time.Second
	auditTimeout          = 5 * time.Second
)

// State is the adapter's session state.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NetVolumeUpdate is emitted for every depth batch of the selected
// instrument.
type NetVolumeUpdate struct {
	Instrument string          `json:"instrument"`
	NetVolume  float64         `json:"netVolume"`
	Series     []domain.Bucket `json:"series"`
}

// Config tunes reconnection and the net-volume window.
type Config struct {
	Backoff        Backoff
	MaxAttempts    int
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WindowWidth    time.Duration
	WindowCapacity int
}

func (c Config) withDefaults() Config {
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Status is a point-in-time view of the adapter.
type Status struct {
	State         State    `json:"state"`
	Session       string   `json:"session,omitempty"`
	Selected      string   `json:"selected,omitempty"`
	Subscriptions []string `json:"subscriptions"`
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithHandler delivers every decoded event to h.
func WithHandler(h EventHandler) Option {
	return func(a *Adapter) { a.handler = h }
}

// WithAuditLog records session events in log.
func WithAuditLog(log AuditLog) Option {
	return func(a *Adapter) { a.audit = log }
}

// WithClock sets the clock used to bucket net volume.
func WithClock(c window.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// OnStateChange registers a listener for state transitions.
func OnStateChange(fn func(State)) Option {
	return func(a *Adapter) { a.onState = fn }
}

// OnError registers a listener for transport, parse and auth errors.
func OnError(fn func(error)) Option {
	return func(a *Adapter) { a.onError = fn }
}

// OnNetVolume registers a listener for the selected instrument's net volume.
func OnNetVolume(fn func(NetVolumeUpdate)) Option {
	return func(a *Adapter) { a.onNetVolume = fn }
}

// Adapter maintains one upstream session. It authenticates, connects,
// reconnects with backoff and replays its subscription set on every
// connect. Close is terminal.
type Adapter struct {
	cfg    Config
	auth   Authenticator
	dialer Dialer
	subs   *SubscriptionSet
	logger *slog.Logger

	handler     EventHandler
	audit       AuditLog
	clock       window.Clock
	onState     func(State)
	onError     func(error)
	onNetVolume func(NetVolumeUpdate)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu        sync.Mutex
	state     State
	token     string
	transport Transport
	stopPing  chan struct{}
	session   string

	selMu    sync.Mutex
	selected string
	agg      *window.Aggregator
}

// New creates an Adapter in the Unauthenticated state.
func New(auth Authenticator, dialer Dialer, cfg Config, logger *slog.Logger, opts ...Option) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:    cfg.withDefaults(),
		auth:   auth,
		dialer: dialer,
		subs:   NewSubscriptionSet(),
		logger: logger.With(slog.String("component", "feed_adapter")),
		ctx:    ctx,
		cancel: cancel,
		state:  StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.agg = window.New(a.cfg.WindowWidth, a.cfg.WindowCapacity, a.clock)
	return a
}

// State returns the current session state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns the state, session id, selection and subscriptions.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	st := Status{State: a.state, Session: a.session}
	a.mu.Unlock()

	a.selMu.Lock()
	st.Selected = a.selected
	a.selMu.Unlock()

	st.Subscriptions = a.subs.Snapshot()
	return st
}

// Subscriptions returns the current subscription set, sorted.
func (a *Adapter) Subscriptions() []string {
	return a.subs.Snapshot()
}

// Run authenticates, connects and keeps the session alive until ctx is
// cancelled, then closes the adapter. An auth failure is returned without
// connecting. A failed first connect falls back to the reconnect loop.
func (a *Adapter) Run(ctx context.Context, creds Credentials) error {
	token, err := a.Authenticate(ctx, creds)
	if err != nil {
		return err
	}

	if err := a.Connect(ctx, token); err != nil {
		if errors.Is(err, domain.ErrClosed) {
			return err
		}
		a.logger.Warn("initial connect failed, retrying", slog.String("error", err.Error()))
		a.goTracked(func() { a.reconnectLoop(token) })
	}

	<-ctx.Done()
	a.Close()
	return ctx.Err()
}

// Authenticate exchanges creds for a token. On failure the adapter returns
// to Unauthenticated and the error unwraps to domain.ErrAuth. A live session
// keeps its state; the new token is used from the next connect on.
func (a *Adapter) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	if a.closed.Load() {
		return "", fmt.Errorf("feed: authenticate: %w", domain.ErrClosed)
	}
	a.transition(StateAuthenticating)

	token, err := a.auth.Login(ctx, creds)
	if err != nil {
		a.transition(StateUnauthenticated)
		a.logger.Error("authentication failed", slog.String("error", err.Error()))
		a.record("auth_failed", map[string]any{"error": err.Error()})
		a.reportError(err)
		return "", err
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	a.transition(StateDisconnected)
	a.logger.Info("authenticated", slog.String("user", creds.Username))
	return token, nil
}

// Connect opens a transport with token and replays the subscription set.
// It is a no-op while already connected.
func (a *Adapter) Connect(ctx context.Context, token string) error {
	if a.closed.Load() {
		return fmt.Errorf("feed: connect: %w", domain.ErrClosed)
	}

	a.mu.Lock()
	if a.transport != nil {
		a.mu.Unlock()
		return nil
	}
	a.token = token
	a.mu.Unlock()

	t, err := a.dial(ctx, token)
	if err != nil {
		a.transition(StateDisconnected)
		err = fmt.Errorf("feed: connect: %w", err)
		a.reportError(err)
		return err
	}
	return a.install(t)
}

func (a *Adapter) dial(ctx context.Context, token string) (Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	t, err := a.dialer.Dial(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrTransport) {
			err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		return nil, err
	}
	return t, nil
}

// install makes t the live transport, replays the subscription set and
// starts the read loop. The replay runs under mu so a concurrent Subscribe
// is sent exactly once: either by the replay or by Subscribe itself.
func (a *Adapter) install(t Transport) error {
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		t.Close()
		return fmt.Errorf("feed: connect: %w", domain.ErrClosed)
	}
	if a.transport != nil {
		a.mu.Unlock()
		t.Close()
		return nil
	}

	a.transport = t
	a.session = uuid.NewString()
	a.state = StateConnected
	session := a.session

	replayed := 0
	for _, id := range a.subs.Snapshot() {
		if err := sendCommands(t, subscribeMethods, id); err != nil {
			a.logger.Warn("subscription replay failed",
				slog.String("instrument", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		replayed++
	}

	stop := make(chan struct{})
	a.stopPing = stop
	a.wg.Add(2)
	go a.readLoop(t)
	go a.pingLoop(t, stop)
	a.mu.Unlock()

	a.notifyState(StateConnected)
	a.logger.Info("connected",
		slog.String("session", session),
		slog.Int("replayed", replayed),
	)
	a.record("connected", map[string]any{"session": session, "replayed": replayed})
	return nil
}

func sendCommands(t Transport, methods []string, id string) error {
	for _, m := range methods {
		frame, err := encodeInvocation(m, id)
		if err != nil {
			return err
		}
		if err := t.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

// pingLoop sends a keep-alive record every PingInterval until stop is
// closed. A failed send is left to the read loop, which sees the same
// broken transport.
func (a *Adapter) pingLoop(t Transport, stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := t.Send(pingRecord()); err != nil {
				a.logger.Debug("keep-alive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// endSession stops the live transport's ping loop. Callers hold mu.
func (a *Adapter) endSession() {
	if a.stopPing != nil {
		close(a.stopPing)
		a.stopPing = nil
	}
}

func (a *Adapter) readLoop(t Transport) {
	defer a.wg.Done()

	for {
		frame, err := t.Read()
		if err != nil {
			a.handleDrop(t, err)
			return
		}
		for _, rec := range splitRecords(frame) {
			if err := a.handleRecord(rec); err != nil {
				a.handleDrop(t, err)
				return
			}
		}
	}
}

// handleRecord processes one hub record. A non-nil error ends the session.
func (a *Adapter) handleRecord(rec []byte) error {
	msg, err := decodeMessage(rec)
	if err != nil {
		a.parseError(err)
		return nil
	}

	switch msg.Type {
	case messageInvocation:
		ev, ok, err := decodeEvent(msg)
		if err != nil {
			a.parseError(err)
			return nil
		}
		if ok {
			a.dispatch(ev)
		}
	case messageClose:
		reason := msg.Error
		if reason == "" {
			reason = "closed by server"
		}
		return fmt.Errorf("feed: hub close: %s: %w", reason, domain.ErrTransport)
	case messagePing:
	}
	return nil
}

func (a *Adapter) parseError(err error) {
	a.logger.Debug("dropping malformed record", slog.String("error", err.Error()))
	a.reportError(err)
}

func (a *Adapter) dispatch(ev domain.FeedEvent) {
	if a.closed.Load() {
		return
	}
	if a.handler != nil {
		Dispatch(ev, a.handler)
	}
	if d, ok := ev.(domain.Depth); ok {
		a.observeDepth(d)
	}
}

// observeDepth feeds the net volume of the selected instrument's depth
// batches into the window. Other instruments are ignored.
func (a *Adapter) observeDepth(d domain.Depth) {
	a.selMu.Lock()
	if a.selected == "" || d.InstrumentID != a.selected {
		a.selMu.Unlock()
		return
	}
	net := NetVolume(d)
	series, err := a.agg.IngestNow(net)
	a.selMu.Unlock()

	if err != nil {
		a.logger.Debug("net volume sample ignored", slog.String("error", err.Error()))
	}
	if a.onNetVolume != nil && !a.closed.Load() {
		a.onNetVolume(NetVolumeUpdate{Instrument: d.InstrumentID, NetVolume: net, Series: series})
	}
}

// handleDrop tears down a failed transport and runs the reconnect loop on
// the calling goroutine. Stale transports are ignored.
func (a *Adapter) handleDrop(t Transport, cause error) {
	a.mu.Lock()
	if a.closed.Load() || a.transport != t {
		a.mu.Unlock()
		return
	}
	a.transport = nil
	a.endSession()
	a.state = StateDisconnected
	session, token := a.session, a.token
	a.mu.Unlock()

	t.Close()
	a.notifyState(StateDisconnected)

	if !errors.Is(cause, domain.ErrTransport) {
		cause = fmt.Errorf("%w: %w", domain.ErrTransport, cause)
	}
	a.logger.Warn("session lost", slog.String("session", session), slog.String("error", cause.Error()))
	a.record("disconnected", map[string]any{"session": session, "error": cause.Error()})
	a.reportError(cause)

	a.reconnectLoop(token)
}

func (a *Adapter) reconnectLoop(token string) {
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if a.closed.Load() || a.live() {
			return
		}
		a.transition(StateReconnecting)

		wait := a.cfg.Backoff.Next(attempt)
		a.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
		a.record("reconnecting", map[string]any{"attempt": attempt})

		timer := time.NewTimer(wait)
		select {
		case <-a.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if a.live() {
			return
		}

		t, err := a.dial(a.ctx, token)
		if err != nil {
			if a.live() {
				return
			}
			a.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := a.install(t); err != nil {
			a.logger.Debug("reconnect abandoned", slog.String("error", err.Error()))
		}
		return
	}

	if a.closed.Load() || a.live() {
		return
	}
	a.transition(StateDisconnected)
	err := fmt.Errorf("feed: reconnect: gave up after %d attempts: %w", a.cfg.MaxAttempts, domain.ErrTransport)
	a.logger.Error("reconnect attempts exhausted", slog.Int("attempts", a.cfg.MaxAttempts))
	a.record("reconnect_exhausted", map[string]any{"attempts": a.cfg.MaxAttempts})
	a.reportError(err)
}

// Subscribe adds id to the subscription set and, when connected, sends the
// subscribe commands. Subscribing twice sends nothing the second time.
// While disconnected the id is sent on the next connect.
func (a *Adapter) Subscribe(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("feed: subscribe: empty instrument id: %w", domain.ErrSubscription)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return fmt.Errorf("feed: subscribe %s: %w: %w", id, domain.ErrSubscription, domain.ErrClosed)
	}
	if !a.subs.Add(id) {
		return nil
	}
	if a.transport != nil {
		if err := sendCommands(a.transport, subscribeMethods, id); err != nil {
			a.logger.Warn("subscribe send failed, will replay on reconnect",
				slog.String("instrument", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Unsubscribe removes id from the subscription set and, when connected,
// sends the unsubscribe commands.
func (a *Adapter) Unsubscribe(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("feed: unsubscribe: empty instrument id: %w", domain.ErrSubscription)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return fmt.Errorf("feed: unsubscribe %s: %w: %w", id, domain.ErrSubscription, domain.ErrClosed)
	}
	if !a.subs.Remove(id) {
		return nil
	}
	if a.transport != nil {
		if err := sendCommands(a.transport, unsubscribeMethods, id); err != nil {
			a.logger.Warn("unsubscribe send failed",
				slog.String("instrument", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Select makes id the instrument whose depth feeds the net-volume window.
// Changing the selection clears the window.
func (a *Adapter) Select(id string) {
	a.selMu.Lock()
	defer a.selMu.Unlock()
	if a.selected == id {
		return
	}
	a.selected = id
	a.agg.Reset()
}

// Follow selects id, subscribes to it and drops the subscription of the
// previously selected instrument.
func (a *Adapter) Follow(id string) error {
	id = strings.TrimSpace(id)
	if err := a.Subscribe(id); err != nil {
		return err
	}

	a.selMu.Lock()
	prev := a.selected
	a.selMu.Unlock()

	a.Select(id)
	if prev != "" && prev != id {
		return a.Unsubscribe(prev)
	}
	return nil
}

// Selected returns the selected instrument, or "".
func (a *Adapter) Selected() string {
	a.selMu.Lock()
	defer a.selMu.Unlock()
	return a.selected
}

// Series returns the net-volume buckets of the selected instrument.
func (a *Adapter) Series() []domain.Bucket {
	a.selMu.Lock()
	defer a.selMu.Unlock()
	return a.agg.Series()
}

// Close tears down the transport, clears the subscription set and stops
// reconnecting. It waits for the adapter's goroutines, so it must not be
// called from an event callback. After Close returns no callback fires and
// every operation fails with domain.ErrClosed.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	t := a.transport
	a.transport = nil
	a.endSession()
	a.state = StateClosed
	session := a.session
	a.subs.Clear()
	a.mu.Unlock()

	a.cancel()
	if t != nil {
		t.Close()
	}
	if a.onState != nil {
		a.onState(StateClosed)
	}
	a.wg.Wait()

	a.logger.Info("feed adapter closed", slog.String("session", session))
	a.record("closed", map[string]any{"session": session})
	return nil
}

// transition moves to s and notifies the listener. Closed is final, and a
// live session is only left through handleDrop or Close, so transition does
// nothing while a transport is installed.
func (a *Adapter) transition(s State) {
	a.mu.Lock()
	if a.transport != nil || a.state == StateClosed || a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	a.notifyState(s)
}

// live reports whether a transport is installed.
func (a *Adapter) live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport != nil
}

func (a *Adapter) notifyState(s State) {
	if a.onState != nil && !a.closed.Load() {
		a.onState(s)
	}
}

func (a *Adapter) reportError(err error) {
	if a.onError != nil && !a.closed.Load() {
		a.onError(err)
	}
}

// goTracked runs fn on a goroutine counted by Close unless the adapter is
// already closed.
func (a *Adapter) goTracked(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *Adapter) record(event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.Warn("audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
