// internal/testutil/serialport.go
package testutil

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"

	"matrix-service/internal/protocol"
)

// ErrPortClosed is returned by FakePort reads after Close.
var ErrPortClosed = errors.New("fake port closed")

// Responder produces the device's reply lines for one written line. Each
// returned string is sent verbatim, so callers add their own terminators.
type Responder func(line string) []string

// FakePort is an in-memory serial.Port double. Written bytes are split on
// LF and handed to the Responder; injected bytes are returned by Read.
type FakePort struct {
	mu          sync.Mutex
	rx          []byte
	tx          []byte
	written     []string
	wake        chan struct{}
	closed      bool
	readErr     error
	writeErr    error
	readTimeout time.Duration
	responder   Responder
	resets      int
}

// NewFakePort creates an open port answering through responder, which may be nil.
func NewFakePort(responder Responder) *FakePort {
	return &FakePort{
		wake:        make(chan struct{}),
		readTimeout: 10 * time.Millisecond,
		responder:   responder,
	}
}

// Read blocks for at most the read timeout and returns (0, nil) when no
// data arrived, like a real port.
func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return 0, err
		}
		if len(p.rx) > 0 {
			n := copy(b, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write records complete lines and queues the responder's replies.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.tx = append(p.tx, b...)
	for {
		i := bytes.IndexByte(p.tx, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(p.tx[:i], "\r"))
		p.tx = p.tx[i+1:]
		p.written = append(p.written, line)

		if p.responder != nil {
			for _, reply := range p.responder(line) {
				p.rx = append(p.rx, reply...)
			}
		}
	}
	p.signal()

	return len(b), nil
}

// Close marks the port closed and wakes pending reads.
func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.signal()
	return nil
}

// SetReadTimeout sets the per-Read blocking bound.
func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// ResetInputBuffer discards bytes not yet read.
func (p *FakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = nil
	p.resets++
	return nil
}

// Inject queues raw bytes as if the device had sent them.
func (p *FakePort) Inject(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, data...)
	p.signal()
}

// Fail makes every following Read return err, simulating an unplugged cable.
func (p *FakePort) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.signal()
}

// FailWrites makes every following Write return err.
func (p *FakePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns the lines written so far, terminators removed.
func (p *FakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// signal wakes blocked readers; p.mu must be held.
func (p *FakePort) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// PortFactory hands out ports in order. Once the list is exhausted every
// call fails, which tests use to simulate a missing device.
type PortFactory struct {
	mu     sync.Mutex
	ports  []*FakePort
	opened []string
	Err    error
}

// NewPortFactory creates a factory returning the given ports in order.
func NewPortFactory(ports ...*FakePort) *PortFactory {
	return &PortFactory{ports: ports}
}

// Open implements protocol.PortFactory.
func (f *PortFactory) Open(path string, _ *serial.Mode) (protocol.SerialPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, path)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.ports) == 0 {
		return nil, errors.New("no such device")
	}
	port := f.ports[0]
	f.ports = f.ports[1:]
	return port, nil
}

// Opens returns how many times Open was called.
func (f *PortFactory) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}
