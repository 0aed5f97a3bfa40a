package matrix_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-service/internal/driver/matrix"
	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/internal/testutil"
	"matrix-service/pkg/driver"
)

type fixture struct {
	client    *matrix.Client
	transport *protocol.SerialTransport
	factory   *testutil.PortFactory
}

var testConfig = matrix.Config{
	RequestTimeout: 80 * time.Millisecond,
	MaxAttempts:    2,
	RetryBackoff:   5 * time.Millisecond,
}

func newFixture(t *testing.T, dialect protocol.Dialect, cfg matrix.Config, ports ...*testutil.FakePort) *fixture {
	t.Helper()

	factory := testutil.NewPortFactory(ports...)
	tr := protocol.NewSerialTransport(&protocol.SerialConfig{
		Port:         "/dev/ttyTEST0",
		BaudRate:     115200,
		DataBits:     8,
		StopBits:     1,
		PollInterval: 5 * time.Millisecond,
	}, factory.Open, nil)

	client, err := matrix.NewClient(tr, dialect, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, transport: tr, factory: factory}
}

func TestQueryPower(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	port := m.Port()
	f := newFixture(t, protocol.GenericDialect(), testConfig, port)

	power, err := f.client.QueryPower(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PowerOn, power)
	assert.Equal(t, []string{"PW?"}, port.Written())

	m.SetPower(false)
	power, err = f.client.QueryPower(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PowerOff, power)
}

func TestSendReturnsResponseSet(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetEcho(true)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	res, err := f.client.Send(context.Background(), protocol.QueryInput())
	require.NoError(t, err)

	assert.Equal(t, protocol.CommandQueryInput, res.Command)
	assert.Equal(t, []string{"SW?", "SW 1"}, res.Lines)
	assert.Equal(t, "1", res.Value)
	assert.True(t, res.Known)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.RequestID)
}

func TestSetInputThenQuery(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())
	ctx := context.Background()

	require.NoError(t, f.client.SetInput(ctx, 3))
	assert.Equal(t, 3, m.Input())

	input, err := f.client.QueryInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, input)

	require.NoError(t, f.client.SetMultiview(ctx, 4))
	mode, err := f.client.QueryMultiview(ctx)
	require.NoError(t, err)
	require.NotNil(t, mode)
	assert.Equal(t, 4, *mode)
}

func TestTimeoutIsRetriedThenSurfaced(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetSilent(true)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	_, err := f.client.QueryPower(context.Background())
	require.ErrorIs(t, err, driver.ErrTimeout)
	assert.True(t, driver.IsRetryable(err))

	assert.Equal(t, 2, m.Received("PW?"))
	stats := f.client.Stats()
	assert.EqualValues(t, 1, stats.Retries)
	assert.EqualValues(t, 1, stats.Failures)
	assert.Equal(t, driver.StateIdle, stats.State)

	_, pending := f.client.Pending()
	assert.False(t, pending)
}

func TestDeviceRejectedIsNotRetried(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetPower(false)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	err := f.client.SetInput(context.Background(), 4)
	require.ErrorIs(t, err, driver.ErrDeviceRejected)
	assert.False(t, driver.IsRetryable(err))
	assert.Equal(t, 1, m.Received("SW 4"))
}

func TestMalformedLineIsNotRetried(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetGarble(true)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	_, err := f.client.QueryPower(context.Background())
	require.ErrorIs(t, err, driver.ErrMalformedLine)
	assert.Equal(t, 1, m.Received("PW?"))
}

func TestInvalidCommandNeverReachesDevice(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	err := f.client.SetInput(context.Background(), 9)
	require.ErrorIs(t, err, driver.ErrInvalidCommand)
	require.ErrorIs(t, err, protocol.ErrInvalidParameter)
	assert.Zero(t, f.factory.Opens())
}

func TestStandbyQueriesReturnUnknown(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetPower(false)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())
	ctx := context.Background()

	input, err := f.client.QueryInput(ctx)
	require.NoError(t, err)
	assert.Zero(t, input)

	audio, err := f.client.QueryAudioOutput(ctx)
	require.NoError(t, err)
	assert.Nil(t, audio)
}

func TestActuationSilenceTimesOut(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetSilent(true)
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	err := f.client.PowerOff(context.Background())
	require.ErrorIs(t, err, driver.ErrTimeout)
	assert.True(t, m.Power())
	assert.Equal(t, testConfig.MaxAttempts, m.Received("PW OFF"))

	stats := f.client.Stats()
	assert.EqualValues(t, testConfig.MaxAttempts-1, stats.Retries)
	assert.EqualValues(t, 1, stats.Failures)
	assert.Equal(t, driver.StateIdle, stats.State)
}

func TestActuationAcknowledgedByAnyLine(t *testing.T) {
	t.Parallel()

	port := testutil.NewFakePort(func(line string) []string {
		if line == "SW 2" {
			return []string{"OK\r\n"}
		}
		return nil
	})
	f := newFixture(t, protocol.GenericDialect(), testConfig, port)

	res, err := f.client.Send(context.Background(), protocol.SetInput(2))
	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.Equal(t, []string{"OK"}, res.Lines)
	assert.Equal(t, 1, res.Attempts)
}

func TestSecondSendIsBusy(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetSilent(true)
	cfg := testConfig
	cfg.RequestTimeout = 300 * time.Millisecond
	cfg.MaxAttempts = 1
	f := newFixture(t, protocol.GenericDialect(), cfg, m.Port())

	done := make(chan error, 1)
	go func() {
		_, err := f.client.QueryPower(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := f.client.Pending()
		return ok
	}, time.Second, time.Millisecond)

	_, err := f.client.Send(context.Background(), protocol.QueryInput())
	require.ErrorIs(t, err, driver.ErrBusy)
	assert.Zero(t, m.Received("SW?"))

	assert.ErrorIs(t, <-done, driver.ErrTimeout)
	assert.EqualValues(t, 1, f.client.Stats().BusyRejected)
}

func TestConcurrentSendsNeverInterleave(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	f := newFixture(t, protocol.GenericDialect(), testConfig, m.Port())

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.client.Send(context.Background(), protocol.QueryPower())
			if err != nil {
				assert.ErrorIs(t, err, driver.ErrBusy)
				return
			}
			assert.Equal(t, "ON", res.Value)
			assert.Equal(t, []string{"PW ON"}, res.Lines)
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.GreaterOrEqual(t, successes, 1)
	assert.Equal(t, successes, m.Received("PW?"))
}

func TestReconnectsAfterDisconnect(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	first, second := m.Port(), m.Port()
	f := newFixture(t, protocol.GenericDialect(), testConfig, first, second)
	ctx := context.Background()

	require.NoError(t, f.client.TestConnection(ctx))

	first.Fail(errors.New("cable pulled"))
	require.Eventually(t, func() bool { return !f.transport.IsOpen() }, time.Second, 5*time.Millisecond)

	power, err := f.client.QueryPower(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PowerOn, power)
	assert.Equal(t, 2, f.factory.Opens())
}

func TestWriteFailureRetriesOnFreshConnection(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	first, second := m.Port(), m.Port()
	first.FailWrites(errors.New("EIO"))
	f := newFixture(t, protocol.GenericDialect(), testConfig, first, second)

	res, err := f.client.Send(context.Background(), protocol.QueryPower())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, f.factory.Opens())
	assert.True(t, first.Closed())
}

func TestMissingPortIsTransportError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.GenericDialect(), testConfig)

	err := f.client.TestConnection(context.Background())
	require.ErrorIs(t, err, driver.ErrTransport)
	require.ErrorIs(t, err, protocol.ErrConnection)
	assert.Equal(t, 2, f.factory.Opens())
}

func TestCloseCancelsInFlightRequest(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetSilent(true)
	cfg := testConfig
	cfg.RequestTimeout = 5 * time.Second
	f := newFixture(t, protocol.GenericDialect(), cfg, m.Port())

	done := make(chan error, 1)
	go func() {
		_, err := f.client.QueryPower(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.client.State() == driver.StateAwaitingResponse
	}, time.Second, time.Millisecond)
	require.NoError(t, f.client.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, driver.ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("request not cancelled by Close")
	}

	_, err := f.client.Send(context.Background(), protocol.QueryPower())
	assert.ErrorIs(t, err, driver.ErrClientClosed)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	m := testutil.NewMatrix()
	m.SetSilent(true)
	cfg := testConfig
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxAttempts = 5
	f := newFixture(t, protocol.GenericDialect(), cfg, m.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.client.QueryPower(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, m.Received("PW?"))
}

func TestUHD401MVDialect(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		on    = true
		input = 2
	)
	port := testutil.NewFakePort(func(line string) []string {
		mu.Lock()
		defer mu.Unlock()
		switch line {
		case "r power":
			if on {
				return []string{"on\r\n"}
			}
			return []string{"off\r\n"}
		case "r av1":
			if !on {
				return []string{"power off\r\n"}
			}
			return []string{"av1 from i2\r\n"}
		case "off":
			on = false
			return []string{"power off\r\n"}
		}
		return []string{"command error\r\n"}
	})
	f := newFixture(t, protocol.UHD401MVDialect(), testConfig, port)
	ctx := context.Background()

	got, err := f.client.QueryInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	require.NoError(t, f.client.PowerOff(ctx))

	power, err := f.client.QueryPower(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PowerOff, power)

	got, err = f.client.QueryInput(ctx)
	require.NoError(t, err)
	assert.Zero(t, got)

	assert.False(t, f.client.Supports(protocol.CommandSetMultiview))
	err = f.client.SetMultiview(ctx, 2)
	assert.ErrorIs(t, err, driver.ErrInvalidCommand)
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	tr := protocol.NewSerialTransport(&protocol.SerialConfig{Port: "x"}, nil, nil)

	_, err := matrix.NewClient(tr, protocol.GenericDialect(), matrix.Config{MaxAttempts: 1}, nil)
	assert.Error(t, err)

	_, err = matrix.NewClient(tr, protocol.GenericDialect(), matrix.Config{RequestTimeout: time.Second}, nil)
	assert.Error(t, err)

	bad := protocol.GenericDialect()
	bad.OnValue = ""
	_, err = matrix.NewClient(tr, bad, matrix.DefaultConfig(), nil)
	assert.Error(t, err)
}
