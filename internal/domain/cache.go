package domain

import "context"

// QuoteCache keeps the latest upstream quote of every instrument.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, instrumentID string) (Quote, error)
	ListQuotes(ctx context.Context) ([]Quote, error)
}

// TickSink receives every generated batch in addition to the hub's own
// consumers.
type TickSink interface {
	PublishTicks(ctx context.Context, ticks []Tick) error
}
