// Package handler provides HTTP handlers for the GarageLink API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/garagelink/garagelink/internal/api/models"
	"github.com/garagelink/garagelink/internal/api/response"
)

// readinessTimeout bounds each dependency check.
const readinessTimeout = 2 * time.Second

// Check is a named dependency probe used by the readiness endpoint.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []Check
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version, buildTime string, checks ...Check) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
	}
}

// HealthCheck handles GET /ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /ops/ready - probes the record store and command channel.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Checks: make([]models.SubsystemStatus, 0, len(h.checks)),
	}

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Probe(ctx)
		cancel()

		status := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			status.Status = models.HealthStatusFail
			status.Detail = &detail
			health.Status = models.HealthStatusFail
		}
		health.Checks = append(health.Checks, status)
	}

	code := http.StatusOK
	if health.Status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}
