// Package notify forwards feed session events to operator chat channels
// (Telegram, Discord). Events are queued and delivered by a single worker so
// the feed adapter never waits on a webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
)

const queueSize = 64

// DefaultEvents are the session events forwarded when none are configured.
var DefaultEvents = []string{"auth_failed", "reconnect_exhausted", "disconnected"}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type alert struct {
	event  string
	detail map[string]any
}

// Notifier filters session events and queues them for delivery to every
// sender. It satisfies feed.AuditLog.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan alert
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. Only events listed in
// events are forwarded; an empty list means DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan alert, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Log queues event for delivery. It never blocks: when the queue is full the
// event is dropped and counted.
func (n *Notifier) Log(ctx context.Context, event string, detail map[string]any) error {
	if !n.Enabled() || !n.events[event] {
		return nil
	}
	select {
	case n.queue <- alert{event: event, detail: detail}:
	default:
		n.dropped.Add(1)
		n.logger.WarnContext(ctx, "notification queue full, dropping event",
			slog.String("event", event),
		)
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-n.queue:
			if err := n.dispatch(ctx, "inago: "+a.event, formatDetail(a.detail)); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", a.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatDetail renders detail as sorted key=value lines.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%v", k, detail[k])
	}
	return b.String()
}
