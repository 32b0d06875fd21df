package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CatalogStore persists the instrument catalog.
type CatalogStore interface {
	ListInstruments(ctx context.Context) ([]InstrumentSpec, error)
	UpsertInstrument(ctx context.Context, spec InstrumentSpec) error
}

// AuditEntry is one recorded feed session event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore provides an append-only log of feed session events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
