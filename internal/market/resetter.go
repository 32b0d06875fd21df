package market

import (
	"context"
	"log/slog"
	"time"
)

// Resetter zeroes every cumulative volume once per period. It is scheduled
// independently of generation; the registry lock serialises the two.
type Resetter struct {
	reg    *Registry
	period time.Duration
	logger *slog.Logger
}

// NewResetter creates a Resetter for reg.
func NewResetter(reg *Registry, period time.Duration, logger *slog.Logger) *Resetter {
	return &Resetter{
		reg:    reg,
		period: period,
		logger: logger.With(slog.String("component", "volume_resetter")),
	}
}

// Run resets volumes at every period boundary until ctx is cancelled.
func (r *Resetter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "volume resetter started", slog.Duration("period", r.period))
	defer r.logger.Info("volume resetter stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reg.ResetVolumes()
			r.logger.DebugContext(ctx, "cumulative volumes reset",
				slog.Int64("resets", r.reg.Resets()),
			)
		}
	}
}
