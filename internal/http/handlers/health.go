package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a named dependency check for the health endpoint.
type Pinger struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler answers /healthz. With no pingers it is a pure liveness
// probe; with pingers it also reports per-dependency readiness without ever
// failing the probe over a single degraded dependency.
type HealthHandler struct {
	pingers []Pinger
}

func NewHealthHandler(pingers ...Pinger) *HealthHandler {
	return &HealthHandler{pingers: pingers}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(h.pingers))
	status := "ok"
	for _, p := range h.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := p.Ping(ctx); err != nil {
			deps[p.Name] = "down"
			status = "degraded"
		} else {
			deps[p.Name] = "ok"
		}
		cancel()
	}

	body := map[string]any{"status": status, "time": time.Now().UTC()}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, body)
}
