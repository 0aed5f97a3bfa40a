// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"matrix-service/internal/driver/matrix"
	"matrix-service/internal/protocol"
	"matrix-service/internal/utils"
	"matrix-service/pkg/driver"
)

// ClientFactory returns a DriverFactory building matrix.Client instances
// with the given request timing
func ClientFactory(cfg matrix.Config) DriverFactory {
	return func(transport protocol.Transport, dialect protocol.Dialect, logger *utils.DeviceLogger) (driver.MatrixDriver, error) {
		return matrix.NewClient(transport, dialect, cfg, logger)
	}
}

// RegisterDefaultDrivers registers the built-in dialects
func RegisterDefaultDrivers(registry *Registry, cfg matrix.Config, logger *zap.Logger) error {
	factory := ClientFactory(cfg)

	for _, dialect := range []protocol.Dialect{
		protocol.GenericDialect(),
		protocol.UHD401MVDialect(),
	} {
		if err := registry.Register(dialect, factory); err != nil {
			return err
		}
	}

	if logger != nil {
		logger.Info("Matrix dialects registered", zap.Strings("dialects", registry.ListDialects()))
	}
	return nil
}
