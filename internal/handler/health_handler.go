// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"matrix-service/internal/config"
	"matrix-service/internal/model"
	"matrix-service/internal/utils"
)

// SnapshotSource provides the current device snapshot
type SnapshotSource interface {
	Snapshot() model.Snapshot
}

// HealthHandler handles health check requests
type HealthHandler struct {
	matrix    SnapshotSource
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(matrix SnapshotSource, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		matrix:    matrix,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports service and device health. A stale device makes the
// service unhealthy; a device not yet polled does not.
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Device is stale"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	snapshot := h.matrix.Snapshot()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	device := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"port":                 h.config.Serial.Port,
			"dialect":              h.config.Device.Dialect,
			"revision":             snapshot.Revision,
			"consecutive_failures": snapshot.ConsecutiveFailures,
			"checked_at":           snapshot.CheckedAt,
		},
	}
	switch {
	case snapshot.Stale:
		health.Status = "unhealthy"
		device.Status = "unhealthy"
		device.Message = snapshot.LastError
	case snapshot.Revision == 0:
		device.Status = "pending"
		device.Message = "No successful refresh yet"
	}
	health.Checks["device"] = device

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	snapshot := h.matrix.Snapshot()
	if !snapshot.Ready() {
		reason := "device state not confirmed"
		if snapshot.Stale {
			reason = "device not responding"
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
