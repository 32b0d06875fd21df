package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

const quoteWriteTimeout = 2 * time.Second

// QuoteBook is an in-process domain.QuoteCache used when no Redis is
// configured.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewQuoteBook returns an empty QuoteBook.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{quotes: make(map[string]domain.Quote)}
}

func (b *QuoteBook) SetQuote(_ context.Context, q domain.Quote) error {
	b.mu.Lock()
	b.quotes[q.InstrumentID] = q
	b.mu.Unlock()
	return nil
}

func (b *QuoteBook) GetQuote(_ context.Context, id string) (domain.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[id]
	if !ok {
		return domain.Quote{}, fmt.Errorf("feed: quote %s: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

// ListQuotes returns every quote ordered by instrument id.
func (b *QuoteBook) ListQuotes(_ context.Context) ([]domain.Quote, error) {
	b.mu.RLock()
	out := make([]domain.Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// QuoteRecorder is an EventHandler that writes every quote to a cache.
// Trades and depth are passed to next, which may be nil.
type QuoteRecorder struct {
	cache  domain.QuoteCache
	next   EventHandler
	logger *slog.Logger
}

// NewQuoteRecorder creates a QuoteRecorder writing to cache.
func NewQuoteRecorder(cache domain.QuoteCache, next EventHandler, logger *slog.Logger) *QuoteRecorder {
	return &QuoteRecorder{
		cache:  cache,
		next:   next,
		logger: logger.With(slog.String("component", "quote_recorder")),
	}
}

func (r *QuoteRecorder) OnQuote(q domain.Quote) {
	ctx, cancel := context.WithTimeout(context.Background(), quoteWriteTimeout)
	defer cancel()
	if err := r.cache.SetQuote(ctx, q); err != nil {
		r.logger.Warn("cache quote failed",
			slog.String("instrument", q.InstrumentID),
			slog.String("error", err.Error()),
		)
	}
	if r.next != nil {
		r.next.OnQuote(q)
	}
}

func (r *QuoteRecorder) OnTrade(t domain.Trade) {
	if r.next != nil {
		r.next.OnTrade(t)
	}
}

func (r *QuoteRecorder) OnDepth(d domain.Depth) {
	if r.next != nil {
		r.next.OnDepth(d)
	}
}

// Compile-time interface checks.
var (
	_ domain.QuoteCache = (*QuoteBook)(nil)
	_ EventHandler      = (*QuoteRecorder)(nil)
)
