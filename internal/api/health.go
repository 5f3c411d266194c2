package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	respond "github.com/faultmaven/session-service/internal/api/respond"
)

// HealthHandler handles health check endpoints
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// serviceIsHealthy is injected by run wiring; defaults to unhealthy until bound.
var serviceIsHealthy func() bool = func() bool { return false }

// BindServiceHealth allows the run package to inject the service health function.
func BindServiceHealth(f func() bool) { serviceIsHealthy = f }

// componentHealth maps component names (e.g. "store") to their cached probes.
var componentHealth = map[string]func() bool{}

// BindComponentHealth registers a per-component health probe.
func BindComponentHealth(name string, f func() bool) { componentHealth[name] = f }

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if serviceIsHealthy() {
		status = "healthy"
	}
	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	respond.WriteJSON(w, http.StatusOK, response)
}

// CheckComponent handles GET /api/health/{component}
func (h *HealthHandler) CheckComponent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["component"]
	probe, ok := componentHealth[name]
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "unknown component")
		return
	}
	status := "unhealthy"
	if probe() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"component": name,
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
