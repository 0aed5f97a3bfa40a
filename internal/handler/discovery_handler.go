// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"matrix-service/internal/discovery"
	"matrix-service/internal/utils"
)

// DiscoveryHandler lists the serial ports a matrix can be attached to
type DiscoveryHandler struct {
	scanner discovery.PortScanner
	logger  *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner discovery.PortScanner, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
}

// ListPorts enumerates local serial ports
// @Summary List serial ports
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.PortInfo}}
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /ports [get]
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.scanner.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports listed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}
