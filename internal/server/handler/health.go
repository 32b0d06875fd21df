package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check tests one backing dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode    string
	started time.Time
	checks  map[string]Check
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps dependency names
// (redis, postgres, s3) to checks run on every request.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		started: time.Now(),
		checks:  checks,
		logger:  logger,
	}
}

// HealthCheck reports liveness and the state of each dependency. Any
// failing dependency turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(r.Context(), "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "error"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"mode":         h.mode,
		"dependencies": deps,
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
