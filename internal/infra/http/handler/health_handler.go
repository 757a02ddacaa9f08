package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// readyTimeout bounds all dependency pings of one readiness probe.
const readyTimeout = 5 * time.Second

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]Pinger
	now    func() time.Time
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithCheck adds a named readiness check.
func WithCheck(name string, p Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		if p != nil {
			h.checks[name] = p
		}
	}
}

// WithDatabase adds the database readiness check.
func WithDatabase(db Pinger) HealthHandlerOption { return WithCheck("database", db) }

// WithRedis adds the Redis readiness check.
func WithRedis(redis Pinger) HealthHandlerOption { return WithCheck("redis", redis) }

// NewHealthHandler creates a new health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{
		checks: make(map[string]Pinger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
	})
}

// ReadyResponse is the readiness body.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency ping.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready handles GET /ready. Any failing check answers 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = ping(ctx, h.checks[name])
		}()
	}
	wg.Wait()

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: h.now().UTC(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	status := http.StatusOK
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func ping(ctx context.Context, p Pinger) CheckResult {
	start := time.Now()
	err := p.Ping(ctx)
	res := CheckResult{Status: "ok", Duration: time.Since(start).String()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}
