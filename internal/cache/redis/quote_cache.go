package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/inago/internal/domain"
)

// quoteIndexKey is a set holding every instrument id with a cached quote.
const quoteIndexKey = "quotes"

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// instrument's latest quote lives at "quote:{id}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(id string) string {
	return "quote:" + id
}

// SetQuote stores q and indexes its instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, quoteKey(q.InstrumentID), quoteFields(q))
	pipe.SAdd(ctx, quoteIndexKey, q.InstrumentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.InstrumentID, err)
	}
	return nil
}

// GetQuote returns the cached quote. It returns domain.ErrNotFound when the
// key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(id)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", id, domain.ErrNotFound)
	}
	q, err := parseQuote(id, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote %s: %w", id, err)
	}
	return q, nil
}

// ListQuotes returns every cached quote sorted by instrument id. Entries
// that fail to parse are skipped.
func (qc *QuoteCache) ListQuotes(ctx context.Context) ([]domain.Quote, error) {
	ids, err := qc.rdb.SMembers(ctx, quoteIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list quote ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Quote{}, nil
	}
	sort.Strings(ids)

	pipe := qc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, quoteKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list quotes pipeline: %w", err)
	}

	out := make([]domain.Quote, 0, len(ids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(ids[i], vals)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func quoteFields(q domain.Quote) map[string]interface{} {
	return map[string]interface{}{
		"symbol": q.Symbol,
		"last":   strconv.FormatFloat(q.LastPrice, 'f', -1, 64),
		"bid":    strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask":    strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"change": strconv.FormatFloat(q.Change, 'f', -1, 64),
		"volume": strconv.FormatFloat(q.Volume, 'f', -1, 64),
		"ts":     strconv.FormatInt(q.UpdatedAt.UnixNano(), 10),
	}
}

func parseQuote(id string, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{InstrumentID: id, Symbol: vals["symbol"]}

	floats := []struct {
		field string
		dst   *float64
	}{
		{"last", &q.LastPrice},
		{"bid", &q.BestBid},
		{"ask", &q.BestAsk},
		{"change", &q.Change},
		{"volume", &q.Volume},
	}
	for _, f := range floats {
		s, ok := vals[f.field]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("field %s: %w", f.field, err)
		}
		*f.dst = v
	}

	if s, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("field ts: %w", err)
		}
		q.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
