// internal/service/coordinator.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/internal/syncutil"
	"matrix-service/internal/utils"
	"matrix-service/pkg/driver"
)

// ErrRefreshThrottled is returned by RequestRefresh inside the cooldown window
var ErrRefreshThrottled = errors.New("refresh requested too soon")

// Config controls the polling schedule
type Config struct {
	PollInterval     time.Duration
	FailureThreshold int
	// RefreshCooldown is the minimum spacing of RequestRefresh calls; zero
	// disables throttling.
	RefreshCooldown time.Duration
	// ExtendedQueries adds audio and multiview to each refresh when the
	// dialect supports them.
	ExtendedQueries bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// SubscriptionHandle identifies an observer registration
type SubscriptionHandle uint64

// Coordinator owns the device state cache. It is the only caller of the
// driver's queries, refreshes on a fixed interval and after every
// successful actuation, and tells observers when the state changes.
type Coordinator struct {
	driver driver.MatrixDriver
	config Config
	clock  clockwork.Clock
	logger *utils.ServiceLogger

	snapshot atomic.Pointer[model.Snapshot]

	// refreshMu is held for a whole refresh cycle. Timer ticks use
	// TryLock so a busy cycle makes them skip.
	refreshMu sync.Mutex
	limiter   *rate.Limiter

	observersMu syncutil.RWMutex
	observers   map[SubscriptionHandle]Observer
	nextHandle  SubscriptionHandle

	skippedTicks atomic.Uint64
	ticks        sync.WaitGroup
}

// NewCoordinator creates a coordinator holding the initial snapshot.
func NewCoordinator(drv driver.MatrixDriver, config Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if drv == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if config.FailureThreshold < 1 {
		return nil, fmt.Errorf("failure threshold must be at least 1")
	}

	limit := rate.Inf
	if config.RefreshCooldown > 0 {
		limit = rate.Every(config.RefreshCooldown)
	}

	c := &Coordinator{
		driver:    drv,
		config:    config,
		clock:     clockwork.NewRealClock(),
		logger:    utils.NewServiceLogger(logger, "coordinator"),
		limiter:   rate.NewLimiter(limit, 1),
		observers: make(map[SubscriptionHandle]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}

	initial := model.InitialSnapshot()
	c.snapshot.Store(&initial)

	return c, nil
}

// Snapshot returns the current snapshot.
func (c *Coordinator) Snapshot() model.Snapshot {
	return *c.snapshot.Load()
}

// Refresh polls the device and replaces the snapshot. A failed poll keeps
// the last known state and records the failure. If the client is busy
// with a request that did not come from the coordinator, or ctx ends, the
// cycle is abandoned without touching the snapshot.
func (c *Coordinator) Refresh(ctx context.Context) (model.Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

// RequestRefresh is Refresh for external callers, limited to one per
// RefreshCooldown. When throttled the current snapshot is returned with
// ErrRefreshThrottled.
func (c *Coordinator) RequestRefresh(ctx context.Context) (model.Snapshot, error) {
	if !c.limiter.AllowN(c.clock.Now(), 1) {
		return c.Snapshot(), ErrRefreshThrottled
	}
	return c.Refresh(ctx)
}

// Invoke sends an actuation command and refreshes on success. A failed
// command leaves the snapshot untouched and is returned as is. A failed
// follow-up refresh is recorded in the snapshot only.
func (c *Coordinator) Invoke(ctx context.Context, cmd protocol.Command) error {
	if cmd.Name().IsQuery() {
		return fmt.Errorf("%w: %s is not an actuation", driver.ErrInvalidCommand, cmd)
	}

	if _, err := c.driver.Send(ctx, cmd); err != nil {
		return err
	}

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Debug("Refresh after command failed",
			zap.String("command", cmd.String()),
			zap.Error(err),
		)
	}
	return nil
}

// Subscribe registers an observer for snapshot changes.
func (c *Coordinator) Subscribe(observer Observer) SubscriptionHandle {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	c.nextHandle++
	c.observers[c.nextHandle] = observer
	return c.nextHandle
}

// Unsubscribe removes an observer; it reports whether the handle was registered.
func (c *Coordinator) Unsubscribe(handle SubscriptionHandle) bool {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	_, ok := c.observers[handle]
	delete(c.observers, handle)
	return ok
}

// Run refreshes on every PollInterval tick until ctx is done. A tick that
// finds a refresh in progress is dropped.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	defer c.ticks.Wait()

	c.logger.Debug("Polling started", zap.Duration("interval", c.config.PollInterval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Polling stopped")
			return nil
		case <-ticker.Chan():
			c.tick(ctx)
		}
	}
}

// SkippedTicks returns how many ticks were dropped because a refresh was
// still running.
func (c *Coordinator) SkippedTicks() uint64 {
	return c.skippedTicks.Load()
}

func (c *Coordinator) tick(ctx context.Context) {
	if !c.refreshMu.TryLock() {
		c.skippedTicks.Add(1)
		c.logger.Debug("Refresh still running, tick skipped")
		return
	}

	c.ticks.Add(1)
	go func() {
		defer c.ticks.Done()
		defer c.refreshMu.Unlock()
		_, _ = c.refreshLocked(ctx)
	}()
}

func (c *Coordinator) refreshLocked(ctx context.Context) (model.Snapshot, error) {
	start := c.clock.Now()
	prev := c.Snapshot()

	next, err := c.poll(ctx, prev)
	if err != nil && (errors.Is(err, driver.ErrBusy) || ctx.Err() != nil) {
		c.logger.Debug("Refresh abandoned", zap.Error(err))
		return prev, err
	}

	now := c.clock.Now()
	next.CheckedAt = now
	if err != nil {
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		next.LastError = err.Error()
		next.Stale = next.ConsecutiveFailures >= c.config.FailureThreshold
	} else {
		next.Revision = prev.Revision + 1
		next.UpdatedAt = now
	}

	c.snapshot.Store(&next)
	c.logger.LogRefresh(next, now.Sub(start), err)

	if !next.SameState(prev) {
		c.notify(next)
	}
	return next, err
}

// poll queries the device in sequence and stops at the first error, in
// which case prev is returned unchanged.
func (c *Coordinator) poll(ctx context.Context, prev model.Snapshot) (model.Snapshot, error) {
	next := prev
	next.ConsecutiveFailures = 0
	next.LastError = ""
	next.Stale = false

	power, err := c.driver.QueryPower(ctx)
	if err != nil {
		return prev, fmt.Errorf("failed to query power: %w", err)
	}
	next.Power = power

	input, err := c.driver.QueryInput(ctx)
	if err != nil {
		return prev, fmt.Errorf("failed to query input: %w", err)
	}
	if input > 0 {
		next.Input = input
	}

	if !c.config.ExtendedQueries {
		return next, nil
	}

	if c.driver.Supports(protocol.CommandQueryAudioOutput) {
		audio, err := c.driver.QueryAudioOutput(ctx)
		if err != nil {
			return prev, fmt.Errorf("failed to query audio output: %w", err)
		}
		if audio != nil {
			next.AudioOutput = audio
		}
	}

	if c.driver.Supports(protocol.CommandQueryMultiview) {
		mode, err := c.driver.QueryMultiview(ctx)
		if err != nil {
			return prev, fmt.Errorf("failed to query multiview: %w", err)
		}
		if mode != nil {
			next.Multiview = mode
		}
	}

	return next, nil
}

func (c *Coordinator) notify(s model.Snapshot) {
	c.observersMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.observersMu.RUnlock()

	for _, o := range observers {
		o.SnapshotChanged(s)
	}
}
