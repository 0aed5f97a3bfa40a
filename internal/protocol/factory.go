// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"matrix-service/internal/config"
)

// SupportedBaudRates lists the rates the matrix firmware accepts.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200}

// CreateSerialTransport builds a transport from the serial section of the
// configuration. The port is validated but not opened.
func CreateSerialTransport(cfg config.SerialConfig, factory PortFactory, logger *zap.Logger) (*SerialTransport, error) {
	serialConfig := &SerialConfig{
		Port:         cfg.Port,
		BaudRate:     cfg.BaudRate,
		DataBits:     cfg.DataBits,
		StopBits:     cfg.StopBits,
		Parity:       cfg.Parity,
		PollInterval: cfg.ReadPollInterval,
		SettleDelay:  cfg.SettleDelay,
	}

	if err := ValidateSerialConfig(serialConfig); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Creating serial transport",
			zap.String("port", serialConfig.Port),
			zap.Int("baud_rate", serialConfig.BaudRate),
		)
	}

	return NewSerialTransport(serialConfig, factory, logger), nil
}

// ValidateSerialConfig validates serial configuration
func ValidateSerialConfig(c *SerialConfig) error {
	if c.Port == "" {
		return fmt.Errorf("serial port is required")
	}

	if !slices.Contains(SupportedBaudRates, c.BaudRate) {
		return fmt.Errorf("invalid baud rate %d, must be one of %v", c.BaudRate, SupportedBaudRates)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("invalid data bits: %d", c.DataBits)
	}

	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("invalid serial mode: %w", err)
	}

	if c.PollInterval < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("serial durations must not be negative")
	}

	return nil
}
