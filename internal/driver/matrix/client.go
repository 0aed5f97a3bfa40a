// internal/driver/matrix/client.go
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/internal/syncutil"
	"matrix-service/internal/utils"
	"matrix-service/pkg/driver"
)

// Config controls request timing
type Config struct {
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxAttempts    int           `json:"max_attempts"`
	RetryBackoff   time.Duration `json:"retry_backoff"`
}

// DefaultConfig matches the timing of the stock matrix firmware
func DefaultConfig() Config {
	return Config{
		RequestTimeout: time.Second,
		MaxAttempts:    2,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// PendingRequest is the single in-flight exchange
type PendingRequest struct {
	ID       uuid.UUID        `json:"id"`
	Command  protocol.Command `json:"-"`
	Attempt  int              `json:"attempt"`
	SentAt   time.Time        `json:"sent_at"`
	Deadline time.Time        `json:"deadline"`
}

// Client implements driver.MatrixDriver over a line-oriented serial link.
// It owns the transport exclusively and allows one request at a time.
type Client struct {
	transport protocol.Transport
	codec     *protocol.Codec
	config    Config
	logger    *utils.DeviceLogger

	busy   atomic.Bool
	closed atomic.Bool

	mutex   syncutil.Mutex
	pending *PendingRequest
	state   driver.RequestState
	stats   driver.ClientStats
}

var _ driver.MatrixDriver = (*Client)(nil)

// NewClient creates a client. The transport is opened lazily by the first
// request and reopened after a transport failure.
func NewClient(transport protocol.Transport, dialect protocol.Dialect, config Config, logger *utils.DeviceLogger) (*Client, error) {
	codec, err := protocol.NewCodec(dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to build codec: %w", err)
	}

	if config.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive")
	}
	if config.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}
	if logger == nil {
		logger = utils.NewDeviceLogger(nil, "", dialect.Name)
	}

	return &Client{
		transport: transport,
		codec:     codec,
		config:    config,
		logger:    logger,
		state:     driver.StateIdle,
	}, nil
}

// Send issues cmd and waits for its outcome. It fails immediately with
// driver.ErrBusy while another request is pending. Timeouts and transport
// failures are retried up to MaxAttempts in total.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) (*driver.ResponseSet, error) {
	if c.closed.Load() {
		return nil, driver.ErrClientClosed
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.mutex.Lock()
		c.stats.BusyRejected++
		c.mutex.Unlock()
		return nil, driver.ErrBusy
	}
	defer c.release()

	frame, err := c.codec.Encode(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrInvalidCommand, err)
	}

	req := &PendingRequest{ID: uuid.New(), Command: cmd}
	c.mutex.Lock()
	c.pending = req
	c.stats.Requests++
	c.stats.LastRequestAt = time.Now()
	c.mutex.Unlock()

	start := time.Now()
	operation := func() (*driver.ResponseSet, error) {
		res, err := c.exchange(ctx, req, frame)
		if err == nil {
			return res, nil
		}
		if driver.IsRetryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryBackoff)),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.mutex.Lock()
			c.stats.Retries++
			c.mutex.Unlock()
			c.logger.Debug("Retrying command",
				zap.String("request_id", req.ID.String()),
				zap.String("command", cmd.String()),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	duration := time.Since(start)
	attempts := c.attempts(req)
	c.logger.LogCommand(req.ID.String(), cmd.String(), attempts, duration, err)

	if err != nil {
		c.mutex.Lock()
		c.stats.Failures++
		c.stats.LastError = err.Error()
		c.mutex.Unlock()
		return nil, err
	}

	res.RequestID = req.ID
	res.Attempts = attempts
	res.Duration = duration
	return res, nil
}

// exchange performs one write/read attempt.
func (c *Client) exchange(ctx context.Context, req *PendingRequest, frame []byte) (*driver.ResponseSet, error) {
	cmd := req.Command

	now := time.Now()
	c.mutex.Lock()
	req.Attempt++
	req.SentAt = now
	req.Deadline = now.Add(c.config.RequestTimeout)
	deadline := req.Deadline
	c.state = driver.StateSent
	c.mutex.Unlock()

	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if err := c.transport.Discard(); err != nil {
		return nil, c.transportError(err)
	}
	if err := c.transport.Write(ctx, frame); err != nil {
		return nil, c.transportError(err)
	}
	c.setState(driver.StateAwaitingResponse)

	var decoder protocol.LineDecoder
	res := &driver.ResponseSet{Command: cmd.Name()}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.timedOut(cmd, res)
		}

		raw, err := c.transport.ReadUntil(ctx, '\n', remaining)
		if errors.Is(err, protocol.ErrTimeout) {
			return c.timedOut(cmd, res)
		}
		if err != nil {
			return nil, c.transportError(err)
		}

		for _, line := range decoder.Feed(raw) {
			res.Lines = append(res.Lines, line.Text)

			match := c.codec.Classify(cmd, line)
			switch match.Kind {
			case protocol.MatchMalformed:
				return nil, fmt.Errorf("%w: %q", driver.ErrMalformedLine, line.Text)
			case protocol.MatchRejected:
				c.setState(driver.StateRejected)
				return nil, fmt.Errorf("%w: %s answered %q", driver.ErrDeviceRejected, cmd, match.Value)
			case protocol.MatchReply:
				res.Value = match.Value
				res.Known = true
				c.setState(driver.StateResolved)
				return res, nil
			case protocol.MatchPoweredOff:
				c.setState(driver.StateResolved)
				return res, nil
			case protocol.MatchNone:
				if !cmd.ExpectsReply() {
					c.setState(driver.StateResolved)
					return res, nil
				}
			}
		}
	}
}

// timedOut fails a request whose deadline passed. Actuations only get here
// when the device stayed silent; queries also when no line matched.
func (c *Client) timedOut(cmd protocol.Command, res *driver.ResponseSet) (*driver.ResponseSet, error) {
	c.setState(driver.StateTimedOut)
	if len(res.Lines) > 0 {
		return nil, fmt.Errorf("%w: %w: %s got %q", driver.ErrTimeout, driver.ErrUnexpectedResponse, cmd, res.Lines)
	}
	return nil, fmt.Errorf("%w: no reply to %s within %s", driver.ErrTimeout, cmd, c.config.RequestTimeout)
}

// transportError classifies a transport failure and drops the connection
// so the next attempt reopens it.
func (c *Client) transportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, protocol.ErrClosed) || c.closed.Load():
		return fmt.Errorf("%w: %w", driver.ErrClientClosed, err)
	}

	if cerr := c.transport.Close(); cerr != nil {
		c.logger.LogConnection("close", cerr)
	}
	return fmt.Errorf("%w: %w", driver.ErrTransport, err)
}

func (c *Client) ensureOpen(ctx context.Context) error {
	if c.closed.Load() {
		return driver.ErrClientClosed
	}
	if c.transport.IsOpen() {
		return nil
	}

	err := c.transport.Open(ctx)
	if errors.Is(err, protocol.ErrAlreadyOpen) {
		return nil
	}
	c.logger.LogConnection("open", err)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, protocol.ErrClosed) || c.closed.Load():
		return fmt.Errorf("%w: %w", driver.ErrClientClosed, err)
	default:
		return fmt.Errorf("%w: %w", driver.ErrTransport, err)
	}
	return nil
}

func (c *Client) setState(state driver.RequestState) {
	c.mutex.Lock()
	c.state = state
	c.mutex.Unlock()
}

func (c *Client) attempts(req *PendingRequest) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return req.Attempt
}

// release returns the client to Idle and frees the pending slot.
func (c *Client) release() {
	c.mutex.Lock()
	c.pending = nil
	c.state = driver.StateIdle
	c.mutex.Unlock()
	c.busy.Store(false)
}

// Pending returns a copy of the in-flight request, if any.
func (c *Client) Pending() (PendingRequest, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.pending == nil {
		return PendingRequest{}, false
	}
	return *c.pending, true
}

// State returns the lifecycle state of the current request.
func (c *Client) State() driver.RequestState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Stats returns a copy of the client counters.
func (c *Client) Stats() driver.ClientStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	stats := c.stats
	stats.State = c.state
	return stats
}

// Supports reports whether the dialect defines the command.
func (c *Client) Supports(name protocol.CommandName) bool {
	return c.codec.Supports(name)
}

// Dialect returns the name of the active dialect.
func (c *Client) Dialect() string {
	return c.codec.Dialect().Name
}

// Close releases the transport. An in-flight request fails with
// driver.ErrClientClosed.
func (c *Client) Close() error {
	c.closed.Store(true)
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// QueryPower reads the power state.
func (c *Client) QueryPower(ctx context.Context) (model.PowerState, error) {
	res, err := c.Send(ctx, protocol.QueryPower())
	if err != nil {
		return model.PowerUnknown, err
	}

	on, err := c.codec.ParsePower(res.Value)
	if err != nil {
		return model.PowerUnknown, fmt.Errorf("%w: %w", driver.ErrUnexpectedResponse, err)
	}
	if on {
		return model.PowerOn, nil
	}
	return model.PowerOff, nil
}

// QueryInput reads the routed input; 0 while the device is in standby.
func (c *Client) QueryInput(ctx context.Context) (int, error) {
	value, err := c.queryNumber(ctx, protocol.QueryInput())
	if err != nil || value == nil {
		return 0, err
	}
	return *value, nil
}

// QueryAudioOutput reads the audio source.
func (c *Client) QueryAudioOutput(ctx context.Context) (*int, error) {
	return c.queryNumber(ctx, protocol.QueryAudioOutput())
}

// QueryMultiview reads the layout mode.
func (c *Client) QueryMultiview(ctx context.Context) (*int, error) {
	return c.queryNumber(ctx, protocol.QueryMultiview())
}

func (c *Client) queryNumber(ctx context.Context, cmd protocol.Command) (*int, error) {
	res, err := c.Send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Known {
		return nil, nil
	}

	n, err := strconv.Atoi(res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s value %q", driver.ErrUnexpectedResponse, cmd, res.Value)
	}
	return &n, nil
}

// PowerOn switches the matrix on.
func (c *Client) PowerOn(ctx context.Context) error {
	_, err := c.Send(ctx, protocol.PowerOn())
	return err
}

// PowerOff puts the matrix in standby.
func (c *Client) PowerOff(ctx context.Context) error {
	_, err := c.Send(ctx, protocol.PowerOff())
	return err
}

// SetInput routes input to the output.
func (c *Client) SetInput(ctx context.Context, input int) error {
	_, err := c.Send(ctx, protocol.SetInput(input))
	return err
}

// SetAudioOutput selects the audio source.
func (c *Client) SetAudioOutput(ctx context.Context, source int) error {
	_, err := c.Send(ctx, protocol.SetAudioOutput(source))
	return err
}

// SetMultiview selects the layout mode.
func (c *Client) SetMultiview(ctx context.Context, mode int) error {
	_, err := c.Send(ctx, protocol.SetMultiview(mode))
	return err
}

// TestConnection checks that the device answers a power query.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.QueryPower(ctx); err != nil {
		return fmt.Errorf("device not responding: %w", err)
	}
	return nil
}
