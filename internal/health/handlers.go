package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/noah-isme/backend-recargo/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness flag; it is cleared during graceful shutdown.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Check is a named dependency probe with its own timeout.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Legacy handles GET /health with the shape the POS extension expects.
func (h Handler) Legacy(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe and reports 503 when any fails or the process is
// shutting down.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}
	results := make(map[string]string, len(h.Checks))
	healthy := true
	for _, c := range h.Checks {
		status := "ok"
		if err := run(r.Context(), c); err != nil {
			status = err.Error()
			healthy = false
		}
		results[c.Name] = status
	}
	code, overall := http.StatusOK, "ok"
	if !healthy {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}
	common.JSON(w, code, map[string]any{"status": overall, "checks": results})
}

// Names lists the configured checks, sorted.
func (h Handler) Names() []string {
	names := make([]string, 0, len(h.Checks))
	for _, c := range h.Checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

func run(ctx context.Context, c Check) error {
	if c.Probe == nil {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Probe(ctx)
}
