// Package health exposes the controller's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all — a stuck
// controller that can still answer is restarted by other means. /readyz runs
// the registered probes and gates call admission: the load balancer stops
// routing new caller streams to an instance whose handover store ("store") is
// unreachable or whose live sessions are running degraded without their
// confirm engine ("confirm_engines"). Sessions already in flight keep their
// websocket and are unaffected by a not-ready verdict.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout caps one probe. Kubernetes-style checkers poll every few
// seconds; a probe slower than this is reported as a failure rather than
// allowed to stack up requests.
const probeTimeout = 5 * time.Second

// Checker is one readiness probe. Name keys the probe's verdict in the
// /readyz body; Check returns nil when the dependency can carry live calls
// and must honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction; the handler itself holds no mutable state.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given probes. /readyz evaluates them in the
// order given, so put the cheapest probe first.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe: a process that reaches this handler is
// alive, so it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and answers 200 only when all pass. Each probe
// gets a [probeTimeout] deadline under the request context; a failing probe
// flips the instance to 503 and its error text appears verbatim in the body
// so an operator can read the cause off the probe log.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()
		if err == nil {
			rep.Checks[c.Name] = "ok"
			continue
		}
		rep.Checks[c.Name] = "fail: " + err.Error()
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
		slog.Warn("readiness probe failed", "check", c.Name, "error", err)
	}

	writeReport(w, code, rep)
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		slog.Warn("writing probe response failed", "error", err)
	}
}
