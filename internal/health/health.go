// Package health serves the daemon's probe endpoints.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every [Checker] concurrently and answers 200 only if all of them pass,
// 503 otherwise. Both reply with a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one component. Check returns nil when healthy and must give
// up when ctx is done.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Report is the response body of both endpoints.
type Report struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
	Details any                    `json:"details,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithDetails includes fn's value in every /readyz report.
func WithDetails(fn func() any) Option {
	return func(h *Handler) { h.details = fn }
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	details  func() any
}

// New returns a Handler for a fixed set of checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register routes GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

// Evaluate runs all checkers and assembles the readiness report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	// One slot per checker, so goroutines never share a write target.
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok"}
	if len(results) > 0 {
		rep.Checks = make(map[string]CheckResult, len(results))
	}
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if !res.OK {
			rep.Status = "fail"
		}
	}
	if h.details != nil {
		rep.Details = h.details()
	}
	return rep
}

func run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{OK: err == nil, Latency: time.Since(start).Round(time.Microsecond).String()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func respond(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
