// Package window folds an irregular-rate signal into a capped series of
// fixed-width time buckets.
package window

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	DefaultWidth    = 5 * time.Second
	DefaultCapacity = 30
)

// Clock supplies the observation time for IngestNow.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SlotStart aligns t down to a multiple of width counted from the Unix epoch.
func SlotStart(t time.Time, width time.Duration) time.Time {
	n := t.UnixNano()
	w := int64(width)
	slot := n / w * w
	if n%w < 0 {
		slot -= w
	}
	return time.Unix(0, slot).UTC()
}

// Aggregator holds the bucket series of one signal. It has a single writer
// and no internal locking; the owner serialises every call.
type Aggregator struct {
	width    time.Duration
	capacity int
	clock    Clock
	series   []domain.Bucket
}

// New creates an Aggregator. Non-positive width or capacity fall back to the
// defaults, and a nil clock uses the wall clock.
func New(width time.Duration, capacity int, clock Clock) *Aggregator {
	if width <= 0 {
		width = DefaultWidth
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Aggregator{
		width:    width,
		capacity: capacity,
		clock:    clock,
		series:   make([]domain.Bucket, 0, capacity+1),
	}
}

// Width returns the bucket width.
func (a *Aggregator) Width() time.Duration { return a.width }

// Capacity returns the maximum series length.
func (a *Aggregator) Capacity() int { return a.capacity }

// Ingest records value as observed at observedAt and returns the updated
// series. A sample in the latest slot overwrites that slot's value. A sample
// older than the latest slot leaves the series unchanged and returns
// ErrOutOfOrder alongside the current series.
func (a *Aggregator) Ingest(value float64, observedAt time.Time) ([]domain.Bucket, error) {
	slot := SlotStart(observedAt, a.width)

	if n := len(a.series); n > 0 {
		last := &a.series[n-1]
		switch {
		case slot.Equal(last.SlotStart):
			last.Value = value
			return a.Series(), nil
		case slot.Before(last.SlotStart):
			return a.Series(), fmt.Errorf("window: slot %s behind %s: %w",
				slot.Format(time.RFC3339Nano), last.SlotStart.Format(time.RFC3339Nano), domain.ErrOutOfOrder)
		}
	}

	a.series = append(a.series, domain.Bucket{SlotStart: slot, Value: value})
	if over := len(a.series) - a.capacity; over > 0 {
		a.series = append(a.series[:0], a.series[over:]...)
	}
	return a.Series(), nil
}

// IngestNow records value at the clock's current time.
func (a *Aggregator) IngestNow(value float64) ([]domain.Bucket, error) {
	return a.Ingest(value, a.clock.Now())
}

// Series returns a copy of the buckets, oldest first.
func (a *Aggregator) Series() []domain.Bucket {
	out := make([]domain.Bucket, len(a.series))
	copy(out, a.series)
	return out
}

// Len returns the number of buckets held.
func (a *Aggregator) Len() int { return len(a.series) }

// Prefill seeds n zero-valued buckets ending at now's slot so a chart has a
// full axis before the first sample. It does nothing once the series holds
// any bucket. n is capped at the capacity.
func (a *Aggregator) Prefill(now time.Time, n int) {
	if len(a.series) > 0 || n <= 0 {
		return
	}
	if n > a.capacity {
		n = a.capacity
	}
	end := SlotStart(now, a.width)
	for i := n - 1; i >= 0; i-- {
		a.series = append(a.series, domain.Bucket{
			SlotStart: end.Add(-time.Duration(i) * a.width),
		})
	}
}

// Reset drops every bucket.
func (a *Aggregator) Reset() {
	a.series = a.series[:0]
}
