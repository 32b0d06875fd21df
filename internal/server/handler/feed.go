package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/inago/internal/domain"
	"github.com/alanyoungcy/inago/internal/feed"
)

// FeedControl is the part of feed.Adapter the HTTP surface drives.
type FeedControl interface {
	Status() feed.Status
	Series() []domain.Bucket
	Follow(id string) error
	Subscribe(id string) error
	Unsubscribe(id string) error
}

// FeedHandler serves the upstream session status, the selected instrument's
// net-volume series, subscription management and cached quotes.
type FeedHandler struct {
	adapter FeedControl
	quotes  domain.QuoteCache
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewFeedHandler creates a FeedHandler. audit may be nil, in which case the
// audit route answers 404.
func NewFeedHandler(adapter FeedControl, quotes domain.QuoteCache, audit domain.AuditStore, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{adapter: adapter, quotes: quotes, audit: audit, logger: logger}
}

// GetStatus returns the adapter state, session and subscriptions.
// GET /api/feed/status
func (h *FeedHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.adapter.Status())
}

type seriesResponse struct {
	Instrument string          `json:"instrument"`
	Buckets    []domain.Bucket `json:"buckets"`
}

// GetSeries returns the net-volume buckets of the selected instrument.
// GET /api/feed/series
func (h *FeedHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, seriesResponse{
		Instrument: h.adapter.Status().Selected,
		Buckets:    h.adapter.Series(),
	})
}

type selectionRequest struct {
	Instrument string `json:"instrument"`
}

// PutSelection makes the given instrument the followed one.
// PUT /api/feed/selection  {"instrument":"CON.F.US.EP.M25"}
func (h *FeedHandler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Instrument) == "" {
		writeError(w, http.StatusBadRequest, "missing instrument")
		return
	}
	if err := h.adapter.Follow(req.Instrument); err != nil {
		h.writeFeedError(w, r, "follow", req.Instrument, err)
		return
	}
	writeJSON(w, http.StatusOK, h.adapter.Status())
}

// PutSubscription subscribes to an instrument.
// PUT /api/feed/subscriptions/{id}
func (h *FeedHandler) PutSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.adapter.Subscribe(id); err != nil {
		h.writeFeedError(w, r, "subscribe", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSubscription unsubscribes from an instrument.
// DELETE /api/feed/subscriptions/{id}
func (h *FeedHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.adapter.Unsubscribe(id); err != nil {
		h.writeFeedError(w, r, "unsubscribe", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListQuotes returns the latest cached upstream quote of every instrument.
// GET /api/feed/quotes
func (h *FeedHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.quotes.ListQuotes(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list feed quotes failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list quotes")
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetQuote returns the cached upstream quote of one instrument.
// GET /api/feed/quotes/{id}
func (h *FeedHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q, err := h.quotes.GetQuote(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "quote not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get feed quote failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get quote")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ListAudit returns recorded session events, newest first.
// GET /api/feed/audit?limit=50&offset=0&since=RFC3339
func (h *FeedHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *FeedHandler) writeFeedError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "feed is closed")
	case errors.Is(err, domain.ErrSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: feed "+op+" failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
