package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/inago/internal/domain"
)

func TestQuoteBook(t *testing.T) {
	ctx := context.Background()
	book := NewQuoteBook()

	_, err := book.GetQuote(ctx, "ES")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, book.SetQuote(ctx, domain.Quote{InstrumentID: "NQ", LastPrice: 1}))
	require.NoError(t, book.SetQuote(ctx, domain.Quote{InstrumentID: "ES", LastPrice: 2}))
	require.NoError(t, book.SetQuote(ctx, domain.Quote{InstrumentID: "NQ", LastPrice: 3}))

	q, err := book.GetQuote(ctx, "NQ")
	require.NoError(t, err)
	assert.Equal(t, 3.0, q.LastPrice)

	all, err := book.ListQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ES", all[0].InstrumentID)
	assert.Equal(t, "NQ", all[1].InstrumentID)
}

type failingCache struct{ *QuoteBook }

func (failingCache) SetQuote(context.Context, domain.Quote) error { return errors.New("down") }

func TestQuoteRecorder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := NewQuoteBook()

	var quotes, depths int
	next := HandlerFuncs{
		Quote: func(domain.Quote) { quotes++ },
		Depth: func(domain.Depth) { depths++ },
	}
	rec := NewQuoteRecorder(book, next, logger)

	Dispatch(domain.Quote{InstrumentID: "ES", LastPrice: 5200}, rec)
	Dispatch(domain.Depth{InstrumentID: "ES"}, rec)
	Dispatch(domain.Trade{InstrumentID: "ES"}, rec)

	q, err := book.GetQuote(context.Background(), "ES")
	require.NoError(t, err)
	assert.Equal(t, 5200.0, q.LastPrice)
	assert.Equal(t, 1, quotes)
	assert.Equal(t, 1, depths)

	// A failing cache still forwards the quote.
	rec = NewQuoteRecorder(failingCache{NewQuoteBook()}, next, logger)
	rec.OnQuote(domain.Quote{InstrumentID: "ES"})
	assert.Equal(t, 2, quotes)

	// nil next is allowed.
	NewQuoteRecorder(book, nil, logger).OnTrade(domain.Trade{})
}
