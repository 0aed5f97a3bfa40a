// internal/protocol/serial_connection.go
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"matrix-service/internal/syncutil"
)

// SerialPort is the subset of serial.Port used by SerialTransport.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortFactory opens a serial port. Tests substitute a fake.
type PortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultPortFactory opens a real serial device.
func DefaultPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	return serial.Open(path, mode)
}

const chunkBacklog = 64

// session is one open handle plus the goroutine draining it. A new session
// is created by every successful Open.
type session struct {
	port    SerialPort
	chunks  chan []byte
	closing chan struct{} // closed by Close
	lost    chan struct{} // closed by the reader on a read error
	stopped chan struct{} // closed when the reader returns
	lostErr error
	pending []byte
}

// SerialTransport implements Transport over go.bug.st/serial. A background
// reader moves bytes from the port into a channel so ReadUntil can honour
// deadlines and Close without blocking on the port itself.
type SerialTransport struct {
	config  *SerialConfig
	factory PortFactory
	logger  *zap.Logger

	mutex   syncutil.Mutex
	session *session
	opening *pendingOpen
	stats   TransportStats

	// readMutex serialises ReadUntil/Discard over session.pending.
	readMutex syncutil.Mutex
}

// NewSerialTransport creates a transport; nothing is opened until Open.
func NewSerialTransport(config *SerialConfig, factory PortFactory, logger *zap.Logger) *SerialTransport {
	if factory == nil {
		factory = DefaultPortFactory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}

	return &SerialTransport{
		config:  config,
		factory: factory,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Open opens the serial port. It fails with ErrAlreadyOpen while a live
// handle exists or another Open is in progress; a disconnected handle is
// replaced. The settle delay is waited without holding the lock, and a
// Close during it aborts the open with ErrClosed.
func (st *SerialTransport) Open(ctx context.Context) error {
	st.mutex.Lock()
	if st.opening != nil || (st.session != nil && !st.session.isLost()) {
		st.mutex.Unlock()
		return ErrAlreadyOpen
	}
	mode, err := st.config.Mode()
	if err != nil {
		st.mutex.Unlock()
		return &ConnectionError{Port: st.config.Port, Err: err}
	}
	pending := &pendingOpen{abort: make(chan struct{})}
	st.opening = pending
	st.mutex.Unlock()

	port, err := st.connect(ctx, mode, pending.abort)

	st.mutex.Lock()
	defer st.mutex.Unlock()
	st.opening = nil

	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			st.stats.ErrorCount++
		}
		return err
	}
	if pending.aborted() {
		_ = port.Close()
		return ErrClosed
	}

	s := &session{
		port:    port,
		chunks:  make(chan []byte, chunkBacklog),
		closing: make(chan struct{}),
		lost:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go st.readLoop(s)

	st.session = s
	st.stats.Opens++
	st.stats.IsConnected = true
	st.stats.LastActivity = time.Now()

	st.logger.Debug("Serial port opened")
	return nil
}

// connect opens and prepares the port. abort is closed by Close.
func (st *SerialTransport) connect(ctx context.Context, mode *serial.Mode, abort <-chan struct{}) (SerialPort, error) {
	st.logger.Debug("Opening serial port", zap.Int("baud_rate", st.config.BaudRate))

	port, err := st.factory(st.config.Port, mode)
	if err != nil {
		return nil, &ConnectionError{Port: st.config.Port, Err: err}
	}

	if err := port.SetReadTimeout(st.config.PollInterval); err != nil {
		_ = port.Close()
		return nil, &ConnectionError{Port: st.config.Port, Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}

	if st.config.SettleDelay > 0 {
		timer := time.NewTimer(st.config.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-abort:
			_ = port.Close()
			return nil, ErrClosed
		case <-ctx.Done():
			_ = port.Close()
			return nil, ctx.Err()
		}
	}

	if err := port.ResetInputBuffer(); err != nil {
		st.logger.Debug("Failed to reset input buffer", zap.Error(err))
	}
	return port, nil
}

// readLoop copies port reads into the session's chunk channel until the
// session is closed or the port fails.
func (st *SerialTransport) readLoop(s *session) {
	defer close(s.stopped)

	buffer := make([]byte, 256)
	for {
		n, err := s.port.Read(buffer)
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}

			st.mutex.Lock()
			s.lostErr = err
			st.stats.Disconnects++
			st.stats.ErrorCount++
			st.stats.IsConnected = false
			st.mutex.Unlock()

			close(s.lost)
			_ = s.port.Close()
			st.logger.Debug("Serial port lost", zap.Error(err))
			return
		}

		if n == 0 {
			// read timeout
			select {
			case <-s.closing:
				return
			default:
				continue
			}
		}

		chunk := make([]byte, n)
		copy(chunk, buffer[:n])

		st.mutex.Lock()
		st.stats.BytesRead += int64(n)
		st.stats.LastActivity = time.Now()
		st.mutex.Unlock()

		select {
		case s.chunks <- chunk:
		case <-s.closing:
			return
		}
	}
}

// Close releases the port and resolves any in-flight ReadUntil or Open
// with ErrClosed. It is safe to call at any time, including repeatedly.
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	if st.opening != nil {
		st.opening.cancel()
	}
	s := st.session
	st.session = nil
	st.stats.IsConnected = false
	st.mutex.Unlock()

	if s == nil {
		return nil
	}

	close(s.closing)

	var err error
	if !s.isLost() {
		if cerr := s.port.Close(); cerr != nil {
			err = fmt.Errorf("failed to close serial port: %w", cerr)
		}
	}
	<-s.stopped

	st.logger.Debug("Serial port closed")
	return err
}

// IsOpen reports whether a live handle is held.
func (st *SerialTransport) IsOpen() bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.session != nil && !st.session.isLost()
}

// Write writes data to the serial port
func (st *SerialTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s, err := st.current()
	if err != nil {
		return err
	}

	n, err := s.port.Write(data)
	if err != nil {
		st.mutex.Lock()
		st.stats.ErrorCount++
		st.mutex.Unlock()
		return fmt.Errorf("%w: failed to write to serial port: %w", ErrIO, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: incomplete write: wrote %d of %d bytes", ErrIO, n, len(data))
	}

	st.mutex.Lock()
	st.stats.BytesWritten += int64(n)
	st.stats.LastActivity = time.Now()
	st.mutex.Unlock()

	st.logger.Debug("Serial write completed", zap.ByteString("data", bytes.TrimSpace(data)))
	return nil
}

// ReadUntil returns the bytes up to and including terminator. Bytes after
// the terminator stay buffered for the next call; on timeout the partial
// line stays buffered too.
func (st *SerialTransport) ReadUntil(ctx context.Context, terminator byte, timeout time.Duration) ([]byte, error) {
	s, err := st.current()
	if err != nil {
		return nil, err
	}

	st.readMutex.Lock()
	defer st.readMutex.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if i := bytes.IndexByte(s.pending, terminator); i >= 0 {
			line := make([]byte, i+1)
			copy(line, s.pending[:i+1])
			s.pending = s.pending[i+1:]
			return line, nil
		}

		select {
		case chunk := <-s.chunks:
			s.pending = append(s.pending, chunk...)
		case <-s.closing:
			return nil, ErrClosed
		case <-s.lost:
			return nil, fmt.Errorf("%w: %w", ErrDisconnected, s.lostErr)
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Discard drops buffered input, both the unread chunks and the driver's
// input queue.
func (st *SerialTransport) Discard() error {
	s, err := st.current()
	if err != nil {
		return err
	}

	st.readMutex.Lock()
	defer st.readMutex.Unlock()

	s.pending = nil
	for {
		select {
		case <-s.chunks:
		default:
			if err := s.port.ResetInputBuffer(); err != nil {
				return fmt.Errorf("%w: failed to reset input buffer: %w", ErrIO, err)
			}
			return nil
		}
	}
}

// Stats returns a copy of the transport counters.
func (st *SerialTransport) Stats() TransportStats {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.stats
}

// current returns the live session or the error describing why there is none.
func (st *SerialTransport) current() (*session, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.session == nil {
		return nil, ErrNotOpen
	}
	if st.session.isLost() {
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, st.session.lostErr)
	}
	return st.session, nil
}

// pendingOpen tracks an Open that has released the lock.
type pendingOpen struct {
	abort chan struct{}
	once  sync.Once
}

func (p *pendingOpen) cancel() {
	p.once.Do(func() { close(p.abort) })
}

func (p *pendingOpen) aborted() bool {
	select {
	case <-p.abort:
		return true
	default:
		return false
	}
}

func (s *session) isLost() bool {
	select {
	case <-s.lost:
		return true
	default:
		return false
	}
}
