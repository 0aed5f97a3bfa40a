// internal/handler/matrix_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/internal/service"
	"matrix-service/internal/utils"
	"matrix-service/pkg/driver"
)

// MatrixController is the coordinator surface used by the HTTP layer
type MatrixController interface {
	Snapshot() model.Snapshot
	RequestRefresh(ctx context.Context) (model.Snapshot, error)
	Invoke(ctx context.Context, cmd protocol.Command) error
}

var _ MatrixController = (*service.Coordinator)(nil)

// MatrixHandler handles matrix state and actuation requests
type MatrixHandler struct {
	matrix MatrixController
	events *EventBus
	logger *utils.ServiceLogger
}

// NewMatrixHandler creates a new matrix handler. events may be nil.
func NewMatrixHandler(matrix MatrixController, events *EventBus, logger *zap.Logger) *MatrixHandler {
	return &MatrixHandler{
		matrix: matrix,
		events: events,
		logger: utils.NewServiceLogger(logger, "matrix-handler"),
	}
}

// RegisterRoutes registers matrix routes
func (h *MatrixHandler) RegisterRoutes(router *gin.RouterGroup) {
	matrix := router.Group("/matrix")
	{
		matrix.GET("/state", h.GetState)
		matrix.POST("/power", h.SetPower)
		matrix.POST("/input", h.SetInput)
		matrix.POST("/audio", h.SetAudio)
		matrix.POST("/multiview", h.SetMultiview)
		matrix.POST("/refresh", h.Refresh)
	}
}

// PowerRequest switches the matrix on or off
type PowerRequest struct {
	On *bool `json:"on" binding:"required"`
}

// InputRequest routes an input to the output
type InputRequest struct {
	Input int `json:"input" binding:"required,min=1"`
}

// AudioRequest selects the audio source; 0 follows the video window
type AudioRequest struct {
	Source *int `json:"source" binding:"required,min=0"`
}

// MultiviewRequest selects the layout mode
type MultiviewRequest struct {
	Mode int `json:"mode" binding:"required,min=1"`
}

// GetState returns the last known snapshot
// @Summary Get matrix state
// @Tags Matrix
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Router /matrix/state [get]
func (h *MatrixHandler) GetState(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Matrix state retrieved", h.matrix.Snapshot())
}

// SetPower switches the matrix on or off
// @Summary Set power
// @Tags Matrix
// @Accept json
// @Produce json
// @Param request body PowerRequest true "Power request"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Failure 400,409,422,502,504 {object} utils.APIResponse
// @Router /matrix/power [post]
func (h *MatrixHandler) SetPower(c *gin.Context) {
	var req PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}
	h.invoke(c, protocol.SetPower(*req.On))
}

// SetInput routes an input to the output
// @Summary Set input
// @Tags Matrix
// @Accept json
// @Produce json
// @Param request body InputRequest true "Input request"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Failure 400,409,422,502,504 {object} utils.APIResponse
// @Router /matrix/input [post]
func (h *MatrixHandler) SetInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}
	h.invoke(c, protocol.SetInput(req.Input))
}

// SetAudio selects the audio source
// @Summary Set audio source
// @Tags Matrix
// @Accept json
// @Produce json
// @Param request body AudioRequest true "Audio request"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Failure 400,409,422,502,504 {object} utils.APIResponse
// @Router /matrix/audio [post]
func (h *MatrixHandler) SetAudio(c *gin.Context) {
	var req AudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}
	h.invoke(c, protocol.SetAudioOutput(*req.Source))
}

// SetMultiview selects the layout mode
// @Summary Set multiview mode
// @Tags Matrix
// @Accept json
// @Produce json
// @Param request body MultiviewRequest true "Multiview request"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Failure 400,409,422,502,504 {object} utils.APIResponse
// @Router /matrix/multiview [post]
func (h *MatrixHandler) SetMultiview(c *gin.Context) {
	var req MultiviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}
	h.invoke(c, protocol.SetMultiview(req.Mode))
}

// Refresh polls the device now
// @Summary Refresh state
// @Tags Matrix
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Snapshot}
// @Failure 409,429,502,504 {object} utils.APIResponse
// @Router /matrix/refresh [post]
func (h *MatrixHandler) Refresh(c *gin.Context) {
	snapshot, err := h.matrix.RequestRefresh(c.Request.Context())
	if err != nil {
		utils.ErrorResponseWithData(c, StatusForError(err), "Refresh failed", err, snapshot)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Matrix state refreshed", snapshot)
}

func (h *MatrixHandler) invoke(c *gin.Context, cmd protocol.Command) {
	err := h.matrix.Invoke(c.Request.Context(), cmd)
	if h.events != nil {
		h.events.Publish(model.NewCommandEvent(cmd.String(), err))
	}

	if err != nil {
		h.logger.Warn("Command failed",
			zap.String("command", cmd.String()),
			zap.String("request_id", utils.GetRequestID(c)),
			zap.Error(err),
		)
		utils.ErrorResponse(c, StatusForError(err), "Command failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed", h.matrix.Snapshot())
}

// StatusForError maps client and coordinator errors to HTTP statuses
func StatusForError(err error) int {
	switch {
	case errors.Is(err, driver.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, driver.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, driver.ErrDeviceRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrRefreshThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, driver.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, driver.ErrTransport),
		errors.Is(err, driver.ErrMalformedLine),
		errors.Is(err, driver.ErrUnexpectedResponse):
		return http.StatusBadGateway
	case errors.Is(err, driver.ErrClientClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
