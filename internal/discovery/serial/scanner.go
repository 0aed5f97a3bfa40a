// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"matrix-service/internal/discovery"
)

// Enumerator returns detailed port descriptions
type Enumerator func() ([]*enumerator.PortDetails, error)

// Lister returns bare port names
type Lister func() ([]string, error)

// Scanner implements discovery.PortScanner for local serial ports
type Scanner struct {
	logger     *zap.Logger
	configured string
	enumerate  Enumerator
	list       Lister
}

var _ discovery.PortScanner = (*Scanner)(nil)

// NewScanner creates a scanner that flags configuredPort in its results
func NewScanner(logger *zap.Logger, configuredPort string) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		logger:     logger.With(zap.String("scanner", "serial")),
		configured: configuredPort,
		enumerate:  enumerator.GetDetailedPortsList,
		list:       serial.GetPortsList,
	}
}

// WithEnumerators replaces the OS enumeration functions, for tests.
func (s *Scanner) WithEnumerators(enumerate Enumerator, list Lister) *Scanner {
	s.enumerate = enumerate
	s.list = list
	return s
}

// List returns the available ports sorted by name. When the detailed
// enumeration is unavailable it falls back to bare port names.
func (s *Scanner) List(ctx context.Context) ([]discovery.PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := s.enumerate()
	if err != nil {
		s.logger.Debug("Detailed enumeration failed, falling back to port names", zap.Error(err))
		return s.listNames()
	}

	ports := make([]discovery.PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, discovery.PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
			Configured:   d.Name == s.configured,
		})
	}
	s.sort(ports)

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) listNames() ([]discovery.PortInfo, error) {
	names, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]discovery.PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, discovery.PortInfo{
			Name:       name,
			Configured: name == s.configured,
		})
	}
	s.sort(ports)
	return ports, nil
}

func (s *Scanner) sort(ports []discovery.PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
