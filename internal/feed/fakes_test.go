package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/inago/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuth struct {
	token string
	err   error
	calls int
}

func (f *fakeAuth) Login(_ context.Context, _ Credentials) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeTransport struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	sent  []string
	pings int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Send(frame []byte) error {
	select {
	case <-t.closed:
		return errors.New("send on closed transport")
	default:
	}
	var inv struct {
		Type      int      `json:"type"`
		Target    string   `json:"target"`
		Arguments []string `json:"arguments"`
	}
	if err := json.Unmarshal(bytes.TrimSuffix(frame, []byte{recordSeparator}), &inv); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if inv.Type == messagePing {
		t.pings++
		return nil
	}
	t.sent = append(t.sent, inv.Target+":"+inv.Arguments[0])
	return nil
}

func (t *fakeTransport) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *fakeTransport) Read() ([]byte, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.closed:
		return nil, errors.New("connection reset")
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) push(records ...string) {
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(r)
		buf.WriteByte(recordSeparator)
	}
	t.frames <- buf.Bytes()
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	tokens     []string
	failAfter  int // dials beyond this count fail when > 0
	failAll    bool
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.failAll || (d.failAfter > 0 && len(d.tokens) > d.failAfter) {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

// gatedDialer serves the first dial from fakeDialer and holds every later
// dial until release is closed, then fails it.
type gatedDialer struct {
	*fakeDialer
	entered chan struct{}
	release chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{
		fakeDialer: &fakeDialer{},
		entered:    make(chan struct{}, 8),
		release:    make(chan struct{}),
	}
}

func (d *gatedDialer) Dial(ctx context.Context, token string) (Transport, error) {
	if d.dials() == 0 {
		return d.fakeDialer.Dial(ctx, token)
	}
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	d.mu.Unlock()

	d.entered <- struct{}{}
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return nil, errors.New("connection refused")
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

func (d *fakeDialer) connected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

type recorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	depths []domain.Depth
	quotes []domain.Quote
	trades []domain.Trade
	nets   []NetVolumeUpdate
	audit  []string
}

func (r *recorder) OnQuote(q domain.Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes = append(r.quotes, q)
}

func (r *recorder) OnTrade(t domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *recorder) OnDepth(d domain.Depth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, d)
}

func (r *recorder) Log(_ context.Context, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, event)
	return nil
}

func (r *recorder) options() []Option {
	return []Option{
		WithHandler(r),
		WithAuditLog(r),
		OnStateChange(func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		}),
		OnError(func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		}),
		OnNetVolume(func(u NetVolumeUpdate) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.nets = append(r.nets, u)
		}),
	}
}

func (r *recorder) errList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) hasError(target error) bool {
	for _, err := range r.errList() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *recorder) depthCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.depths)
}

func (r *recorder) netUpdates() []NetVolumeUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NetVolumeUpdate(nil), r.nets...)
}

func (r *recorder) auditEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.audit...)
}

func (r *recorder) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func fastConfig() Config {
	return Config{
		Backoff:     Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		MaxAttempts: 3,
	}
}

func newTestAdapter(t *testing.T, dialer *fakeDialer, rec *recorder) *Adapter {
	t.Helper()
	a := New(&fakeAuth{token: "tok"}, dialer, fastConfig(), testLogger(), rec.options()...)
	t.Cleanup(func() { a.Close() })
	return a
}

func connected(t *testing.T, a *Adapter) {
	t.Helper()
	require.NoError(t, a.Connect(context.Background(), "tok"))
	require.Equal(t, StateConnected, a.State())
}

func countOf(cmds []string, want string) int {
	n := 0
	for _, c := range cmds {
		if c == want {
			n++
		}
	}
	return n
}
