// internal/testutil/matrix.go
package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Matrix simulates a 4x1 switch speaking the generic PW/SW/AU/MV dialect.
type Matrix struct {
	mu        sync.Mutex
	power     bool
	input     int
	audio     int
	multiview int
	silent    bool
	echo      bool
	garble    bool
	received  map[string]int
}

// NewMatrix returns a powered-on matrix routing input 1 in single view.
func NewMatrix() *Matrix {
	return &Matrix{
		power:     true,
		input:     1,
		multiview: 1,
		received:  make(map[string]int),
	}
}

// Port returns a FakePort wired to this matrix.
func (m *Matrix) Port() *FakePort {
	return NewFakePort(m.Respond)
}

// Respond implements Responder.
func (m *Matrix) Respond(line string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received[line]++
	if m.silent {
		return nil
	}

	var out []string
	if m.echo {
		out = append(out, line+"\r\n")
	}
	reply := m.handle(strings.TrimSpace(line))
	if m.garble {
		reply = reply[:len(reply)/2] + "\xff" + reply[len(reply)/2:]
	}
	return append(out, reply+"\r\n")
}

func (m *Matrix) handle(line string) string {
	switch line {
	case "PW?":
		return m.powerReport()
	case "PW ON":
		m.power = true
		return m.powerReport()
	case "PW OFF":
		m.power = false
		return m.powerReport()
	case "SW?":
		if !m.power {
			return "POWER OFF"
		}
		return fmt.Sprintf("SW %d", m.input)
	case "AU?":
		if !m.power {
			return "POWER OFF"
		}
		return fmt.Sprintf("AU %d", m.audio)
	case "MV?":
		if !m.power {
			return "POWER OFF"
		}
		return fmt.Sprintf("MV %d", m.multiview)
	}

	mnemonic, arg, ok := strings.Cut(line, " ")
	if !ok {
		return "ERR"
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "ERR"
	}
	if !m.power {
		return "ERR POWER OFF"
	}

	switch {
	case mnemonic == "SW" && n >= 1 && n <= 4:
		m.input = n
		return fmt.Sprintf("SW %d", n)
	case mnemonic == "AU" && n >= 0 && n <= 4:
		m.audio = n
		return fmt.Sprintf("AU %d", n)
	case mnemonic == "MV" && n >= 1 && n <= 5:
		m.multiview = n
		return fmt.Sprintf("MV %d", n)
	default:
		return "ERR"
	}
}

func (m *Matrix) powerReport() string {
	if m.power {
		return "PW ON"
	}
	return "PW OFF"
}

// SetSilent makes the matrix ignore every command.
func (m *Matrix) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// SetEcho makes the matrix repeat each command line before answering.
func (m *Matrix) SetEcho(echo bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = echo
}

// SetGarble inserts a non-ASCII byte into every reply.
func (m *Matrix) SetGarble(garble bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.garble = garble
}

// SetPower changes the power state behind the controller's back.
func (m *Matrix) SetPower(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.power = on
}

// SetInput changes the routed input behind the controller's back.
func (m *Matrix) SetInput(input int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = input
}

// Input returns the routed input.
func (m *Matrix) Input() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// Power reports whether the matrix is on.
func (m *Matrix) Power() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

// Received returns how many times line was written.
func (m *Matrix) Received(line string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received[line]
}
