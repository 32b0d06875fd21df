package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/inago/internal/domain"
)

// MarketSource is the read side of the simulated instrument registry. It is
// declared locally so the handler package does not depend on market.
type MarketSource interface {
	Catalog() []domain.Contract
	Snapshot() []domain.Tick
	Quote(id string) (domain.Tick, error)
}

// MarketHandler serves the simulated catalog and latest ticks.
type MarketHandler struct {
	source MarketSource
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler over source.
func NewMarketHandler(source MarketSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{source: source, logger: logger}
}

// ListContracts returns the instrument catalog in catalog order.
// GET /api/contracts
func (h *MarketHandler) ListContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Catalog())
}

// ListQuotes returns the latest tick of every instrument.
// GET /api/quotes
func (h *MarketHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

// GetQuote returns the latest tick of one instrument.
// GET /api/quotes/{id}
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing instrument id")
		return
	}

	tick, err := h.source.Quote(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instrument not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get quote failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get quote")
		return
	}
	writeJSON(w, http.StatusOK, tick)
}
