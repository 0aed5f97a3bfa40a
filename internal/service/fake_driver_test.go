package service_test

import (
	"context"
	"sync"

	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/pkg/driver"
)

// fakeDriver is a scriptable MatrixDriver. Actuations change its state the
// way a real matrix would.
type fakeDriver struct {
	mu          sync.Mutex
	power       model.PowerState
	input       int
	audio       *int
	multiview   *int
	queryErr    error
	sendErr     error
	unsupported map[protocol.CommandName]bool
	gate        chan struct{}
	powerCalls  int
	sent        []protocol.Command
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		power:       model.PowerOn,
		input:       1,
		unsupported: make(map[protocol.CommandName]bool),
	}
}

func (d *fakeDriver) Send(_ context.Context, cmd protocol.Command) (*driver.ResponseSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sent = append(d.sent, cmd)
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	switch cmd.Name() {
	case protocol.CommandPowerOn:
		d.power = model.PowerOn
	case protocol.CommandPowerOff:
		d.power = model.PowerOff
	case protocol.CommandSetInput:
		d.input = cmd.Params()[0]
	case protocol.CommandSetAudioOutput:
		v := cmd.Params()[0]
		d.audio = &v
	case protocol.CommandSetMultiview:
		v := cmd.Params()[0]
		d.multiview = &v
	}
	return &driver.ResponseSet{Command: cmd.Name(), Attempts: 1}, nil
}

func (d *fakeDriver) Supports(name protocol.CommandName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.unsupported[name]
}

func (d *fakeDriver) QueryPower(ctx context.Context) (model.PowerState, error) {
	d.mu.Lock()
	d.powerCalls++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.PowerUnknown, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return model.PowerUnknown, d.queryErr
	}
	return d.power, nil
}

func (d *fakeDriver) QueryInput(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return 0, d.queryErr
	}
	if d.power == model.PowerOff {
		return 0, nil
	}
	return d.input, nil
}

func (d *fakeDriver) QueryAudioOutput(_ context.Context) (*int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio, d.queryErr
}

func (d *fakeDriver) QueryMultiview(_ context.Context) (*int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.multiview, d.queryErr
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) setQueryErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr = err
}

func (d *fakeDriver) setSendErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendErr = err
}

func (d *fakeDriver) setState(power model.PowerState, input int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = power
	d.input = input
}

func (d *fakeDriver) setGate(gate chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

func (d *fakeDriver) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerCalls
}

func (d *fakeDriver) sentCommands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.sent...)
}

// recorder collects observer notifications
type recorder struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (r *recorder) SnapshotChanged(s model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

// staleTransitions counts notifications that turned the snapshot stale.
func (r *recorder) staleTransitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, stale := 0, false
	for _, s := range r.snaps {
		if s.Stale && !stale {
			n++
		}
		stale = s.Stale
	}
	return n
}
