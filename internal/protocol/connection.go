// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	// PollInterval bounds each blocking port read so the reader can notice Close.
	PollInterval time.Duration `json:"poll_interval"`
	// SettleDelay is waited after opening; the matrix ignores input while its
	// UART resets.
	SettleDelay time.Duration `json:"settle_delay"`
}

// Mode converts the configuration to a serial.Mode.
func (c *SerialConfig) Mode() (*serial.Mode, error) {
	parity, err := parseParity(c.Parity)
	if err != nil {
		return nil, err
	}

	var stopBits serial.StopBits
	switch c.StopBits {
	case 1:
		stopBits = serial.OneStopBit
	case 2:
		stopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", c.StopBits)
	}

	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

func parseParity(p string) (serial.Parity, error) {
	switch p {
	case "", "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unsupported parity: %q", p)
	}
}
