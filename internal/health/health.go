// Package health provides HTTP health and readiness check handlers.
//
//   - /healthz is the liveness probe and always returns 200 OK together with
//     whether a journaling session is running.
//   - /readyz is the readiness probe and returns 200 only when every
//     registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name is the key in the JSON response (e.g. "store", "llm").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by dependencies with a cheap liveness round trip,
// such as the persistence store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a [Checker] that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrBreakerOpen is reported by [BreakerCheck] while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerCheck returns a [Checker] that fails while healthy reports false,
// typically the primary LLM circuit breaker.
func BreakerCheck(name string, healthy func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !healthy() {
			return ErrBreakerOpen
		}
		return nil
	}}
}

type result struct {
	Status  string            `json:"status"`
	Session *bool             `json:"session_active,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	active   func() bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithSessionState reports active() in the /healthz body.
func WithSessionState(active func() bool) Option {
	return func(h *Handler) { h.active = active }
}

// New creates a [Handler] that evaluates the given checkers concurrently on
// each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.active != nil {
		a := h.active()
		res.Session = &a
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz returns 200 only when every [Checker] passes. Each check gets a
// deadline of [checkTimeout] derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
