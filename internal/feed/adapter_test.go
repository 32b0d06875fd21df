package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/inago/internal/domain"
)

func TestAuthenticate_FailureDoesNotConnect(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	authErr := &AuthError{StatusCode: 200, ErrorCode: 3, Message: "bad key"}
	a := New(&fakeAuth{err: authErr}, dialer, fastConfig(), testLogger(), rec.options()...)
	defer a.Close()

	err := a.Run(context.Background(), Credentials{Username: "u", APIKey: "k"})
	require.ErrorIs(t, err, domain.ErrAuth)

	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 3, ae.ErrorCode)
	assert.Equal(t, StateUnauthenticated, a.State())
	assert.Zero(t, dialer.dials())
	assert.Contains(t, rec.auditEvents(), "auth_failed")
}

func TestRun_AuthenticatesConnectsAndClosesOnCancel(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	require.NoError(t, a.Subscribe("ES"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, Credentials{Username: "u", APIKey: "k"}) }()

	require.Eventually(t, func() bool { return a.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"tok"}, dialer.tokens)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateClosed, a.State())
	assert.True(t, dialer.transport(0).isClosed())
}

func TestConnect_ReplaysSubscriptionsOnce(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})

	require.NoError(t, a.Subscribe("ES"))
	require.NoError(t, a.Subscribe("NQ"))
	require.NoError(t, a.Subscribe("ES"))
	assert.Equal(t, StateUnauthenticated, a.State())

	connected(t, a)
	cmds := dialer.transport(0).commands()
	require.Len(t, cmds, 6)
	for _, id := range []string{"ES", "NQ"} {
		for _, m := range subscribeMethods {
			assert.Equal(t, 1, countOf(cmds, m+":"+id), "%s %s", m, id)
		}
	}

	require.NoError(t, a.Connect(context.Background(), "tok"))
	assert.Equal(t, 1, dialer.dials())
}

func TestSubscribe_WhileConnectedSendsOnce(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)

	require.NoError(t, a.Subscribe("CL"))
	require.NoError(t, a.Subscribe("CL"))

	cmds := dialer.transport(0).commands()
	assert.Equal(t, []string{
		"SubscribeContractQuotes:CL",
		"SubscribeContractTrades:CL",
		"SubscribeContractMarketDepth:CL",
	}, cmds)
	assert.Equal(t, []string{"CL"}, a.Subscriptions())
}

func TestSubscribe_RejectsEmptyID(t *testing.T) {
	a := newTestAdapter(t, &fakeDialer{}, &recorder{})
	err := a.Subscribe("  ")
	require.ErrorIs(t, err, domain.ErrSubscription)
	assert.Empty(t, a.Subscriptions())
}

func TestUnsubscribe_SendsAndDropsFromReplay(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)

	require.NoError(t, a.Subscribe("ES"))
	require.NoError(t, a.Subscribe("GC"))
	require.NoError(t, a.Unsubscribe("ES"))
	require.NoError(t, a.Unsubscribe("ES"))

	cmds := dialer.transport(0).commands()
	for _, m := range unsubscribeMethods {
		assert.Equal(t, 1, countOf(cmds, m+":ES"))
	}
	assert.Equal(t, []string{"GC"}, a.Subscriptions())

	dialer.transport(0).Close()
	require.Eventually(t, func() bool { return dialer.connected() == 2 && a.State() == StateConnected }, time.Second, time.Millisecond)

	replay := dialer.transport(1).commands()
	assert.Len(t, replay, 3)
	assert.Zero(t, countOf(replay, "SubscribeContractQuotes:ES"))
	assert.Equal(t, 1, countOf(replay, "SubscribeContractQuotes:GC"))
}

func TestReconnect_ReplaysEverySubscriptionExactlyOnce(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	connected(t, a)

	ids := []string{"ES", "NQ", "CL", "GC"}
	for _, id := range ids {
		require.NoError(t, a.Subscribe(id))
	}

	dialer.transport(0).Close()
	require.Eventually(t, func() bool { return dialer.connected() == 2 && a.State() == StateConnected }, time.Second, time.Millisecond)

	replay := dialer.transport(1).commands()
	require.Len(t, replay, len(ids)*len(subscribeMethods))
	for _, id := range ids {
		for _, m := range subscribeMethods {
			assert.Equal(t, 1, countOf(replay, m+":"+id))
		}
	}
	assert.True(t, rec.hasError(domain.ErrTransport))
	assert.Subset(t, rec.auditEvents(), []string{"connected", "disconnected", "reconnecting"})
}

func TestReconnect_SubscribeWhileDisconnectedTakesEffectOnConnect(t *testing.T) {
	dialer := &fakeDialer{failAfter: 1}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)

	dialer.transport(0).Close()
	require.Eventually(t, func() bool { return a.State() != StateConnected }, time.Second, time.Millisecond)
	require.NoError(t, a.Subscribe("MGC"))
	assert.Empty(t, dialer.transport(0).commands())
	assert.Equal(t, []string{"MGC"}, a.Subscriptions())
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{failAfter: 1}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	connected(t, a)

	dialer.transport(0).Close()
	require.Eventually(t, func() bool {
		return dialer.dials() == 4 && a.State() == StateDisconnected
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, dialer.dials())
	assert.Contains(t, rec.auditEvents(), "reconnect_exhausted")
	assert.True(t, rec.hasError(domain.ErrTransport))
}

func TestHubCloseMessage_TriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)

	dialer.transport(0).push(`{"type":7,"error":"server shutting down"}`)
	require.Eventually(t, func() bool { return dialer.connected() == 2 && a.State() == StateConnected }, time.Second, time.Millisecond)
	assert.True(t, dialer.transport(0).isClosed())
}

func TestInbound_ParseErrorsAreDroppedAndStreamContinues(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	connected(t, a)

	dialer.transport(0).push(
		`{not json`,
		`{"type":1,"target":"GatewayDepth","arguments":["ES"]}`,
		`{"type":6}`,
		`{"type":1,"target":"GatewayDepth","arguments":["ES",[{"type":2,"price":5200,"volume":4}]]}`,
		`{"type":1,"target":"GatewayQuote","arguments":["ES",{"symbol":"F.US.EP","lastPrice":5201.25,"bestBid":5201,"bestAsk":5201.5}]}`,
		`{"type":1,"target":"GatewayTrade","arguments":["ES",[{"price":5201,"volume":2,"type":1}]]}`,
		`{"type":1,"target":"SomethingElse","arguments":[]}`,
	)

	require.Eventually(t, func() bool { return rec.depthCount() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.quotes) == 1 && len(rec.trades) == 1
	}, time.Second, time.Millisecond)

	assert.True(t, rec.hasError(domain.ErrParse))
	assert.Equal(t, StateConnected, a.State())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 5201.25, rec.quotes[0].LastPrice)
	assert.Equal(t, domain.TradeSell, rec.trades[0].Prints[0].Side)
}

func TestDepth_OnlySelectedInstrumentIsAggregated(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	connected(t, a)
	require.NoError(t, a.Follow("ES"))
	assert.Equal(t, "ES", a.Selected())

	batch := `[{"type":2,"price":5200,"volume":10},{"type":4,"price":5199.75,"volume":5},{"type":1,"price":5200.25,"volume":3},{"type":5,"price":5200,"volume":99}]`
	dialer.transport(0).push(
		`{"type":1,"target":"GatewayDepth","arguments":["NQ",`+batch+`]}`,
		`{"type":1,"target":"GatewayDepth","arguments":["ES",`+batch+`]}`,
	)

	require.Eventually(t, func() bool { return rec.depthCount() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.netUpdates()) == 1 }, time.Second, time.Millisecond)

	u := rec.netUpdates()[0]
	assert.Equal(t, "ES", u.Instrument)
	assert.Equal(t, 12.0, u.NetVolume)
	series := a.Series()
	require.Len(t, series, 1)
	assert.Equal(t, 12.0, series[0].Value)
}

func TestFollow_SwitchesSubscription(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)

	require.NoError(t, a.Follow("ES"))
	require.NoError(t, a.Follow("NQ"))

	assert.Equal(t, []string{"NQ"}, a.Subscriptions())
	assert.Equal(t, "NQ", a.Selected())
	cmds := dialer.transport(0).commands()
	assert.Equal(t, 1, countOf(cmds, "UnsubscribeContractMarketDepth:ES"))
	assert.Equal(t, 1, countOf(cmds, "SubscribeContractMarketDepth:NQ"))
}

func TestClose_IsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := New(&fakeAuth{token: "tok"}, dialer, fastConfig(), testLogger(), rec.options()...)
	connected(t, a)
	require.NoError(t, a.Subscribe("ES"))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Equal(t, StateClosed, a.State())
	assert.Empty(t, a.Subscriptions())
	assert.True(t, dialer.transport(0).isClosed())

	err := a.Subscribe("NQ")
	require.ErrorIs(t, err, domain.ErrSubscription)
	require.ErrorIs(t, err, domain.ErrClosed)
	require.ErrorIs(t, a.Unsubscribe("ES"), domain.ErrClosed)
	require.ErrorIs(t, a.Connect(context.Background(), "tok"), domain.ErrClosed)
	_, err = a.Authenticate(context.Background(), Credentials{})
	require.ErrorIs(t, err, domain.ErrClosed)

	states := rec.stateCount()
	errs := len(rec.errList())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, states, rec.stateCount())
	assert.Equal(t, errs, len(rec.errList()))
	assert.Equal(t, 1, dialer.dials())
	assert.Contains(t, rec.auditEvents(), "closed")
}

func TestClose_StopsReconnectLoop(t *testing.T) {
	dialer := &fakeDialer{failAfter: 1}
	cfg := fastConfig()
	cfg.Backoff = Backoff{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	a := New(&fakeAuth{token: "tok"}, dialer, cfg, testLogger())
	connected(t, a)

	dialer.transport(0).Close()
	require.Eventually(t, func() bool { return a.State() == StateReconnecting }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, a.Close())
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
}

func TestConnect_DialFailureIsTransportError(t *testing.T) {
	dialer := &fakeDialer{failAll: true}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)

	err := a.Connect(context.Background(), "tok")
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, StateDisconnected, a.State())
	assert.True(t, rec.hasError(domain.ErrTransport))
}

func TestStatus(t *testing.T) {
	dialer := &fakeDialer{}
	a := newTestAdapter(t, dialer, &recorder{})
	connected(t, a)
	require.NoError(t, a.Follow("GC"))

	st := a.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.NotEmpty(t, st.Session)
	assert.Equal(t, "GC", st.Selected)
	assert.Equal(t, []string{"GC"}, st.Subscriptions)

	text, err := st.State.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(text))
}

func TestAuthenticate_WhileConnectedKeepsSession(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	a := newTestAdapter(t, dialer, rec)
	ctx := context.Background()

	token, err := a.Authenticate(ctx, creds)
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx, token))
	before := rec.stateCount()

	token, err = a.Authenticate(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, a.State())

	require.NoError(t, a.Connect(ctx, token))
	assert.Equal(t, StateConnected, a.State())
	assert.Equal(t, 1, dialer.dials())
	assert.False(t, dialer.transport(0).isClosed())
	assert.Equal(t, before, rec.stateCount(), "no transition while the session is live")
}

func TestReconnect_StopsWhenSessionRestoredDuringBackoff(t *testing.T) {
	dialer := &fakeDialer{failAfter: 1}
	cfg := fastConfig()
	cfg.Backoff = Backoff{Min: 30 * time.Millisecond, Max: 30 * time.Millisecond, Factor: 2}
	rec := &recorder{}
	a := New(&fakeAuth{token: "tok"}, dialer, cfg, testLogger(), rec.options()...)
	t.Cleanup(func() { a.Close() })
	connected(t, a)

	dialer.transport(0).Close()
	require.Eventually(t, func() bool { return a.State() == StateReconnecting }, time.Second, time.Millisecond)
	require.NoError(t, a.install(newFakeTransport()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateConnected, a.State())
	assert.Equal(t, 1, dialer.dials(), "loop must not dial over a live session")
	assert.NotContains(t, rec.auditEvents(), "reconnect_exhausted")
}

func TestReconnect_StopsWhenSessionRestoredDuringDial(t *testing.T) {
	dialer := newGatedDialer()
	rec := &recorder{}
	a := New(&fakeAuth{token: "tok"}, dialer, fastConfig(), testLogger(), rec.options()...)
	t.Cleanup(func() { a.Close() })
	connected(t, a)

	dialer.transport(0).Close()
	select {
	case <-dialer.entered:
	case <-time.After(time.Second):
		t.Fatal("reconnect loop never dialed")
	}

	require.NoError(t, a.install(newFakeTransport()))
	require.Equal(t, StateConnected, a.State())
	close(dialer.release)

	assert.Never(t, func() bool { return a.State() != StateConnected }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 2, dialer.dials())
	assert.Equal(t, StateConnected, rec.stateList()[len(rec.stateList())-1])
	assert.NotContains(t, rec.auditEvents(), "reconnect_exhausted")
}

func TestConnect_SendsKeepAlivePings(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.PingInterval = 2 * time.Millisecond
	a := New(&fakeAuth{token: "tok"}, dialer, cfg, testLogger())
	t.Cleanup(func() { a.Close() })
	connected(t, a)
	require.NoError(t, a.Subscribe("ES"))

	tr := dialer.transport(0)
	require.Eventually(t, func() bool { return tr.pingCount() >= 3 }, time.Second, time.Millisecond)
	assert.Len(t, tr.commands(), len(subscribeMethods))
}

func TestClose_StopsPingLoop(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.PingInterval = time.Hour
	a := New(&fakeAuth{token: "tok"}, dialer, cfg, testLogger())
	connected(t, a)

	start := time.Now()
	require.NoError(t, a.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, dialer.transport(0).pingCount())
}
