package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	// DefaultTickChannel is the pub/sub channel every batch is published on.
	DefaultTickChannel = "market_data"

	// DefaultTickStream is the stream every batch is appended to.
	DefaultTickStream = "ticks"

	// streamMaxLen is the approximate maximum length of the tick stream,
	// enforced via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// TickPublisher implements domain.TickSink. Each batch is published on a
// pub/sub channel, appended to a capped stream, and the latest tick of every
// instrument is kept in a hash at "tick:{id}". All three writes go out in a
// single pipeline.
type TickPublisher struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// NewTickPublisher creates a TickPublisher. Empty names use the defaults.
func NewTickPublisher(c *Client, channel, stream string) *TickPublisher {
	if channel == "" {
		channel = DefaultTickChannel
	}
	if stream == "" {
		stream = DefaultTickStream
	}
	return &TickPublisher{rdb: c.Underlying(), channel: channel, stream: stream}
}

// PublishTicks writes one batch.
func (p *TickPublisher) PublishTicks(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	payload, err := json.Marshal(ticks)
	if err != nil {
		return fmt.Errorf("redis: marshal ticks: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	})
	for _, t := range ticks {
		pipe.HSet(ctx, tickKey(t.InstrumentID), tickFields(t))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish ticks: %w", err)
	}
	return nil
}

func tickKey(id string) string {
	return "tick:" + id
}

func tickFields(t domain.Tick) map[string]interface{} {
	return map[string]interface{}{
		"name":   t.Name,
		"price":  strconv.FormatFloat(t.Price, 'f', -1, 64),
		"volume": strconv.FormatInt(t.CumulativeVolume, 10),
		"ts":     strconv.FormatInt(t.GeneratedAt.UnixNano(), 10),
	}
}

// Compile-time interface check.
var _ domain.TickSink = (*TickPublisher)(nil)
