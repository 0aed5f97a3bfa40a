// cmd/matrixctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matrix-service/internal/config"
	"matrix-service/internal/driver"
	"matrix-service/internal/driver/matrix"
	"matrix-service/internal/protocol"
	"matrix-service/internal/service"
	"matrix-service/internal/utils"
)

// options holds the persistent flags
type options struct {
	configPath string
	port       string
	dialect    string
	verbose    bool
	json       bool
}

// stack is the device stack built for one command
type stack struct {
	config      *config.Config
	logger      *zap.Logger
	client      *matrix.Client
	coordinator *service.Coordinator
}

func (s *stack) Close() {
	_ = s.client.Close()
	_ = s.logger.Sync()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "matrixctl",
		Short:         "Control an HDMI matrix switch over its serial port",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: search ./config.yaml, /etc/matrix-service)")
	flags.StringVarP(&opts.port, "port", "p", "", "serial port, overrides serial.port")
	flags.StringVarP(&opts.dialect, "dialect", "d", "", "command dialect, overrides device.dialect")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log serial traffic to stderr")
	flags.BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newStatusCommand(opts),
		newPowerCommand(opts),
		newInputCommand(opts),
		newAudioCommand(opts),
		newMultiviewCommand(opts),
		newPortsCommand(opts),
	)
	return root
}

// loadConfig reads the config and applies flag overrides
func loadConfig(opts *options) (*config.Config, error) {
	if opts.port != "" {
		if err := os.Setenv(config.EnvPrefix+"_SERIAL_PORT", opts.port); err != nil {
			return nil, err
		}
	}
	if opts.dialect != "" {
		if err := os.Setenv(config.EnvPrefix+"_DEVICE_DIALECT", opts.dialect); err != nil {
			return nil, err
		}
	}
	return config.Load(opts.configPath)
}

func newLogger(opts *options) (*zap.Logger, error) {
	if !opts.verbose {
		return zap.NewNop(), nil
	}
	return utils.NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "console",
		Output: "stderr",
	})
}

// newStack builds transport, client and coordinator the way the server does
func newStack(opts *options) (*stack, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(opts)
	if err != nil {
		return nil, err
	}

	clientConfig := matrix.Config{
		RequestTimeout: cfg.Device.RequestTimeout,
		MaxAttempts:    cfg.Device.MaxAttempts,
		RetryBackoff:   cfg.Device.RetryBackoff,
	}

	registry := driver.NewRegistry(logger)
	if err := driver.RegisterDefaultDrivers(registry, clientConfig, nil); err != nil {
		return nil, err
	}
	if err := registry.RegisterConfigured(cfg.Dialects, driver.ClientFactory(clientConfig)); err != nil {
		return nil, err
	}

	dialect, err := registry.Dialect(cfg.Device.Dialect)
	if err != nil {
		return nil, err
	}

	transport, err := protocol.CreateSerialTransport(cfg.Serial, nil, logger)
	if err != nil {
		return nil, err
	}

	client, err := matrix.NewClient(transport, dialect, clientConfig,
		utils.NewDeviceLogger(logger, cfg.Serial.Port, dialect.Name))
	if err != nil {
		return nil, err
	}

	coordinator, err := service.NewCoordinator(client, service.Config{
		PollInterval:     cfg.Polling.Interval,
		FailureThreshold: cfg.Polling.FailureThreshold,
		ExtendedQueries:  true,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &stack{config: cfg, logger: logger, client: client, coordinator: coordinator}, nil
}

// withStack runs fn against a freshly built stack and closes it afterwards
func withStack(opts *options, fn func(cmd *cobra.Command, s *stack) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		s, err := newStack(opts)
		if err != nil {
			return fmt.Errorf("failed to set up device: %w", err)
		}
		defer s.Close()

		return fn(cmd, s)
	}
}
