// Package health provides HTTP liveness/readiness endpoints for the
// subscription engine.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-subscription-engine/pkg/logging"
)

// BridgeStatus is the narrow view the checker needs of the optional
// notification bridge: whether its circuit breaker currently considers
// MQTT delivery healthy. A nil BridgeStatus (bridge disabled) is always
// reported healthy.
type BridgeStatus interface {
	Healthy() bool
}

// Checker serves health, liveness, and readiness endpoints.
type Checker struct {
	bridge BridgeStatus
	logger zerolog.Logger
}

// NewChecker creates a new health checker. bridge may be nil if the
// notification bridge is disabled.
func NewChecker(bridge BridgeStatus, logger zerolog.Logger) *Checker {
	return &Checker{
		bridge: bridge,
		logger: logging.WithComponent(logger, "health_checker"),
	}
}

// HealthResponse is the JSON body returned by HealthHandler.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// HealthHandler reports overall engine health.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	bridgeStatus := "healthy"
	if c.bridge != nil && !c.bridge.Healthy() {
		bridgeStatus = "degraded"
	}

	overall := "healthy"
	if bridgeStatus != "healthy" {
		overall = "degraded"
	}

	resp := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]string{
			"notification_bridge": bridgeStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if overall != "healthy" {
		// Degraded bridge delivery is non-fatal: 200, not 503.
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

// LiveHandler returns 200 if the process is running.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler always returns 200: the engine accepts Publish requests as
// soon as it's running, regardless of the bridge's state.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
