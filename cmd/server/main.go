// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matrix-service/internal/config"
	serialscan "matrix-service/internal/discovery/serial"
	"matrix-service/internal/driver"
	"matrix-service/internal/driver/matrix"
	"matrix-service/internal/handler"
	"matrix-service/internal/protocol"
	"matrix-service/internal/routes"
	"matrix-service/internal/service"
	"matrix-service/internal/utils"
	pkgdriver "matrix-service/pkg/driver"
)

// ConfigPathEnv names the environment variable holding an explicit config file path
const ConfigPathEnv = "MATRIX_SERVICE_CONFIG"

const shutdownTimeout = 15 * time.Second

// Application represents the main application
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	serviceLogger *utils.ServiceLogger
	server        *http.Server

	// Device stack
	driverRegistry *driver.Registry
	transport      *protocol.SerialTransport
	matrixDriver   pkgdriver.MatrixDriver

	// Services
	coordinator *service.Coordinator
	eventBus    *handler.EventBus
	websocket   *handler.WebSocketHandler
}

func main() {
	app, err := NewApplication(os.Getenv(ConfigPathEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		app.logger.Error("Application stopped with error", zap.Error(err))
		_ = utils.CloseLogger(app.logger)
		os.Exit(1)
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config:        cfg,
		logger:        logger,
		serviceLogger: utils.NewServiceLogger(logger, "matrix-service"),
	}
	app.serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	if err := app.initializeDriverRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize driver registry: %w", err)
	}

	if err := app.initializeDevice(); err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeDriverRegistry registers the built-in and configured dialects
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = driver.NewRegistry(app.logger)

	clientConfig := matrix.Config{
		RequestTimeout: app.config.Device.RequestTimeout,
		MaxAttempts:    app.config.Device.MaxAttempts,
		RetryBackoff:   app.config.Device.RetryBackoff,
	}

	if err := driver.RegisterDefaultDrivers(app.driverRegistry, clientConfig, app.logger); err != nil {
		return err
	}
	if err := app.driverRegistry.RegisterConfigured(app.config.Dialects, driver.ClientFactory(clientConfig)); err != nil {
		return err
	}

	if !app.driverRegistry.IsSupported(app.config.Device.Dialect) {
		return fmt.Errorf("unknown dialect %q, available: %v", app.config.Device.Dialect, app.driverRegistry.ListDialects())
	}
	return nil
}

// initializeDevice creates the serial transport and the command client.
// Nothing is opened until the first request.
func (app *Application) initializeDevice() error {
	transport, err := protocol.CreateSerialTransport(app.config.Serial, nil, app.logger)
	if err != nil {
		return err
	}
	app.transport = transport

	deviceLogger := utils.NewDeviceLogger(app.logger, app.config.Serial.Port, app.config.Device.Dialect)
	drv, err := app.driverRegistry.CreateDriver(app.config.Device.Dialect, transport, deviceLogger)
	if err != nil {
		return err
	}
	app.matrixDriver = drv

	app.logger.Info("Matrix device configured",
		zap.String("port", app.config.Serial.Port),
		zap.Int("baud_rate", app.config.Serial.BaudRate),
		zap.String("dialect", app.config.Device.Dialect),
	)
	return nil
}

// initializeServices creates the coordinator and the event fan-out
func (app *Application) initializeServices() error {
	coordinator, err := service.NewCoordinator(app.matrixDriver, service.Config{
		PollInterval:     app.config.Polling.Interval,
		FailureThreshold: app.config.Polling.FailureThreshold,
		RefreshCooldown:  app.config.Polling.RefreshCooldown,
		ExtendedQueries:  app.config.Polling.ExtendedQueries,
	}, app.logger)
	if err != nil {
		return err
	}
	app.coordinator = coordinator

	app.eventBus = handler.NewEventBus(app.logger)
	app.coordinator.Subscribe(app.eventBus)
	app.websocket = handler.NewWebSocketHandler(app.coordinator, app.eventBus, app.logger)

	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	scanner := serialscan.NewScanner(app.logger, app.config.Serial.Port)
	router := routes.NewRouter(
		app.config,
		app.logger,
		app.coordinator,
		scanner,
		app.eventBus,
		app.websocket,
	).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
}

// Run starts polling, event delivery and the HTTP server, and blocks until
// ctx is cancelled or one of them fails.
func (app *Application) Run(ctx context.Context) error {
	app.initialRefresh(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.eventBus.Start(gctx)
	})
	g.Go(func() error {
		return app.websocket.Run(gctx)
	})
	g.Go(func() error {
		return app.coordinator.Run(gctx)
	})
	g.Go(func() error {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.shutdown()
	})

	return g.Wait()
}

// initialRefresh confirms the device before traffic arrives. Failure is
// not fatal: the coordinator keeps polling and readiness stays false.
func (app *Application) initialRefresh(ctx context.Context) {
	snapshot, err := app.coordinator.Refresh(ctx)
	if err != nil {
		app.logger.Warn("Initial refresh failed, device not confirmed",
			zap.String("port", app.config.Serial.Port),
			zap.Error(err),
		)
		return
	}

	app.logger.Info("Matrix connected",
		zap.String("power", string(snapshot.Power)),
		zap.Int("input", snapshot.Input),
	)
}

// shutdown stops the HTTP server and releases the serial port
func (app *Application) shutdown() error {
	app.serviceLogger.LogServiceStop("context cancelled")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.matrixDriver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close driver: %w", err))
	} else {
		app.logger.Info("Serial link closed", zap.Any("stats", app.transport.Stats()))
	}

	_ = utils.CloseLogger(app.logger)
	return errors.Join(errs...)
}
