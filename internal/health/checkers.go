package health

import (
	"context"
	"fmt"
)

// Pinger is the connectivity probe of the handover store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store returns a checker that probes the handover store's connectivity.
func Store(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// SessionHealth reports aggregate health of the live sessions' confirm
// engines.
type SessionHealth interface {
	// DegradedSessions returns the ids of sessions currently running without
	// their confirm engine.
	DegradedSessions() []string
}

// ConfirmEngines returns a checker that fails when any live session has
// fallen back to fast-filter-only classification. Sessions keep serving in
// that state; the probe surfaces it so operators notice before accuracy
// complaints do.
func ConfirmEngines(h SessionHealth) Checker {
	return Checker{
		Name: "confirm_engines",
		Check: func(context.Context) error {
			if degraded := h.DegradedSessions(); len(degraded) > 0 {
				return fmt.Errorf("%d session(s) degraded: %v", len(degraded), degraded)
			}
			return nil
		},
	}
}
