package endpoints

import (
	"net/http"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/store"
)

// HealthEndpoints backs the liveness/readiness probe family: Health and
// Live answer without touching dependencies, Ready and Detailed probe
// the store and bus the way a load balancer or orchestrator expects.
type HealthEndpoints struct {
	store *store.Gateway
	bus   bus.Bus
}

func NewHealthEndpoints(s *store.Gateway, b bus.Bus) *HealthEndpoints {
	return &HealthEndpoints{store: s, bus: b}
}

func (h *HealthEndpoints) Health(w http.ResponseWriter, r *http.Request) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Live reports process liveness only, with no dependency probing, so an
// orchestrator never restarts a healthy process over a flaky dependency.
func (h *HealthEndpoints) Live(w http.ResponseWriter, r *http.Request) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready probes the store and bus and answers 503 SERVICE_UNAVAILABLE
// when either is unreachable, so a load balancer stops routing traffic
// to an instance that can't serve requests.
func (h *HealthEndpoints) Ready(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.Ping(r.Context()); err != nil {
		return &HTTPError{StatusCode: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE", Message: "store unavailable", ErrorLog: err}
	}
	if err := h.bus.Ping(r.Context()); err != nil {
		return &HTTPError{StatusCode: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE", Message: "bus unavailable", ErrorLog: err}
	}
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Detailed reports liveness alongside per-dependency probe results
// without failing the whole response when one dependency is down.
func (h *HealthEndpoints) Detailed(w http.ResponseWriter, r *http.Request) error {
	components := map[string]string{}

	if err := h.store.Ping(r.Context()); err != nil {
		components["store"] = "down: " + err.Error()
	} else {
		components["store"] = "ok"
	}

	if err := h.bus.Ping(r.Context()); err != nil {
		components["bus"] = "down: " + err.Error()
	} else {
		components["bus"] = "ok"
	}

	status := "ok"
	for _, v := range components {
		if v != "ok" {
			status = "degraded"
			break
		}
	}

	return WriteJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}
