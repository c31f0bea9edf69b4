// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
	"sort"
)

// HealthChecker is implemented by every backing dependency the server pings.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth handles GET /health, pinging every registered dependency.
// Returns 200 if all are healthy, 503 if any is down.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for _, name := range names {
		body[name] = "ok"
		if err := h.Checks[name].CheckHealth(r.Context()); err != nil {
			logError(r, name+" health check failed", "error", err)
			body[name] = "error"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}
