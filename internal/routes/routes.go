// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"matrix-service/internal/config"
	"matrix-service/internal/discovery"
	"matrix-service/internal/handler"
	"matrix-service/internal/middleware"
	"matrix-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	matrix    handler.MatrixController
	scanner   discovery.PortScanner
	events    *handler.EventBus
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	matrix handler.MatrixController,
	scanner discovery.PortScanner,
	events *handler.EventBus,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		matrix:    matrix,
		scanner:   scanner,
		events:    events,
		websocket: websocket,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(serviceLogger))
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.matrix, r.config, r.logger)
	matrixHandler := handler.NewMatrixHandler(r.matrix, r.events, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.scanner, r.logger)

	healthHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	matrixHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	if r.websocket != nil {
		r.websocket.RegisterRoutes(router.Group("/ws"))
	}

	r.logger.Debug("All routes configured successfully")
}
