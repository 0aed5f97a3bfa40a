// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"matrix-service/internal/config"
	"matrix-service/internal/protocol"
	"matrix-service/internal/syncutil"
	"matrix-service/internal/utils"
	"matrix-service/pkg/driver"
)

// DriverFactory creates a command client speaking dialect over transport
type DriverFactory func(transport protocol.Transport, dialect protocol.Dialect, logger *utils.DeviceLogger) (driver.MatrixDriver, error)

// Registry maps dialect names to their mnemonic tables and driver factories
type Registry struct {
	entries map[string]entry
	mu      syncutil.RWMutex
	logger  *zap.Logger
}

type entry struct {
	dialect protocol.Dialect
	factory DriverFactory
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Register adds or replaces a dialect
func (r *Registry) Register(dialect protocol.Dialect, factory DriverFactory) error {
	if err := dialect.Validate(); err != nil {
		return fmt.Errorf("failed to register dialect: %w", err)
	}
	if factory == nil {
		return fmt.Errorf("dialect %s: factory is required", dialect.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[dialect.Name] = entry{dialect: dialect, factory: factory}
	r.logger.Debug("Dialect registered",
		zap.String("dialect", dialect.Name),
		zap.Int("commands", len(dialect.Commands)),
	)
	return nil
}

// RegisterConfigured adds the dialects declared in configuration
func (r *Registry) RegisterConfigured(dialects map[string]config.DialectConfig, factory DriverFactory) error {
	for name, cfg := range dialects {
		dialect, err := protocol.DialectFromConfig(name, cfg)
		if err != nil {
			return err
		}
		if err := r.Register(dialect, factory); err != nil {
			return err
		}
	}
	return nil
}

// Dialect returns a registered dialect
func (r *Registry) Dialect(name string) (protocol.Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return protocol.Dialect{}, fmt.Errorf("unknown dialect %q, registered: %v", name, r.namesLocked())
	}
	return e.dialect, nil
}

// CreateDriver builds a driver for the named dialect
func (r *Registry) CreateDriver(name string, transport protocol.Transport, logger *utils.DeviceLogger) (driver.MatrixDriver, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	names := r.namesLocked()
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no driver found for dialect %q, registered: %v", name, names)
	}
	return e.factory(transport, e.dialect, logger)
}

// ListDialects returns all registered dialect names, sorted
func (r *Registry) ListDialects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// IsSupported checks if a dialect is registered
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
