package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

// SimulatorControl is the operator side of the simulated registry.
type SimulatorControl interface {
	Specs() []domain.InstrumentSpec
	Trend(id string) (domain.Trend, error)
	Resets() int64
	Reset()
}

// GenerationClock reports when the last generation cycle ran.
type GenerationClock interface {
	Generated() time.Time
}

// ConsumerView exposes the hub's per-consumer state.
type ConsumerView interface {
	Consumers() []string
	Latest(id string) ([]domain.Tick, bool)
}

// SimulatorHandler serves simulator status, the operator reset and each
// consumer's latest delivered batch.
type SimulatorHandler struct {
	sim       SimulatorControl
	gen       GenerationClock
	consumers ConsumerView
	logger    *slog.Logger
}

// NewSimulatorHandler creates a SimulatorHandler.
func NewSimulatorHandler(sim SimulatorControl, gen GenerationClock, consumers ConsumerView, logger *slog.Logger) *SimulatorHandler {
	return &SimulatorHandler{sim: sim, gen: gen, consumers: consumers, logger: logger}
}

type instrumentStatus struct {
	domain.InstrumentSpec
	Trend domain.Trend `json:"trend"`
}

type simulatorStatus struct {
	Instruments   []instrumentStatus `json:"instruments"`
	VolumeResets  int64              `json:"volumeResets"`
	LastGenerated *time.Time         `json:"lastGenerated,omitempty"`
	Consumers     []string           `json:"consumers"`
}

func (h *SimulatorHandler) status() simulatorStatus {
	specs := h.sim.Specs()
	st := simulatorStatus{
		Instruments:  make([]instrumentStatus, 0, len(specs)),
		VolumeResets: h.sim.Resets(),
		Consumers:    h.consumers.Consumers(),
	}
	for _, spec := range specs {
		trend, err := h.sim.Trend(spec.ID)
		if err != nil {
			continue
		}
		st.Instruments = append(st.Instruments, instrumentStatus{InstrumentSpec: spec, Trend: trend})
	}
	if at := h.gen.Generated(); !at.IsZero() {
		st.LastGenerated = &at
	}
	return st
}

// GetStatus returns the catalog with current trends, the volume reset count,
// the last generation time and the connected consumers.
// GET /api/simulator
func (h *SimulatorHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// PostReset restores base prices, zeroes volumes and redraws trends.
// POST /api/simulator/reset
func (h *SimulatorHandler) PostReset(w http.ResponseWriter, r *http.Request) {
	h.sim.Reset()
	h.logger.InfoContext(r.Context(), "handler: simulator reset")
	writeJSON(w, http.StatusOK, h.status())
}

// GetConsumerLatest returns the last batch delivered to one consumer.
// GET /api/simulator/consumers/{id}
func (h *SimulatorHandler) GetConsumerLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing consumer id")
		return
	}
	ticks, ok := h.consumers.Latest(id)
	if !ok {
		writeError(w, http.StatusNotFound, "consumer not found or nothing delivered yet")
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}
