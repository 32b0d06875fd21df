package feed

import (
	"context"
	"errors"
)

// AuditLog receives session events (connected, disconnected, reconnecting,
// reconnect_exhausted, auth_failed, closed).
type AuditLog interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

type teeAudit []AuditLog

// TeeAudit writes every event to each non-nil log in turn. Errors are
// joined; one failing log does not skip the others.
func TeeAudit(logs ...AuditLog) AuditLog {
	var out teeAudit
	for _, l := range logs {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (t teeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	var errs []error
	for _, l := range t {
		if err := l.Log(ctx, event, detail); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
