// internal/discovery/scanner.go
package discovery

import "context"

// PortScanner lists the serial ports a matrix could be attached to
type PortScanner interface {
	List(ctx context.Context) ([]PortInfo, error)
}

// PortInfo describes one serial port found on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	// Configured marks the port the service is set up to use.
	Configured bool `json:"configured"`
}
