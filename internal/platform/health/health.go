// Package health serves a JSON health endpoint built from named checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Status is the JSON body of the health endpoint.
type Status struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Registry holds the checks run on every request.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	started  time.Time
	timeout  time.Duration
}

// NewRegistry returns an empty registry whose checks share timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{
		checkers: make(map[string]Checker),
		started:  time.Now(),
		timeout:  timeout,
	}
}

// Register adds or replaces a named check.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// ServeHTTP answers 200 when every check passes and 503 otherwise.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), r.timeout)
	defer cancel()

	r.mu.RLock()
	status := Status{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		Checks:    make(map[string]string, len(r.checkers)),
	}
	for name, check := range r.checkers {
		if err := check(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "unhealthy"
			continue
		}
		status.Checks[name] = "ok"
	}
	r.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}
