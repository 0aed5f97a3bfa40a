package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matrix-service/internal/config"
	"matrix-service/internal/discovery"
	"matrix-service/internal/handler"
	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
	"matrix-service/internal/routes"
	"matrix-service/internal/service"
	"matrix-service/pkg/driver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeMatrix records invoked commands and returns scripted errors
type fakeMatrix struct {
	mu         sync.Mutex
	snapshot   model.Snapshot
	invoked    []protocol.Command
	invokeErr  error
	refreshErr error
}

func (f *fakeMatrix) Snapshot() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeMatrix) RequestRefresh(context.Context) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr == nil {
		f.snapshot.Revision++
	}
	return f.snapshot, f.refreshErr
}

func (f *fakeMatrix) Invoke(_ context.Context, cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, cmd)
	if f.invokeErr != nil {
		return f.invokeErr
	}
	if cmd.Name() == protocol.CommandSetInput {
		f.snapshot.Input = cmd.Params()[0]
	}
	f.snapshot.Revision++
	return nil
}

func (f *fakeMatrix) commands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.invoked...)
}

type fakeScanner struct {
	ports []discovery.PortInfo
	err   error
}

func (s fakeScanner) List(context.Context) ([]discovery.PortInfo, error) {
	return s.ports, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "matrix-service", Version: "test", Environment: "development"},
		Serial: config.SerialConfig{Port: "/dev/ttyUSB0"},
		Device: config.DeviceConfig{Dialect: "generic"},
	}
}

func newTestRouter(m *fakeMatrix, scanner discovery.PortScanner, events *handler.EventBus) *gin.Engine {
	return routes.NewRouter(testConfig(), zap.NewNop(), m, scanner, events, nil).SetupRouter()
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestGetState(t *testing.T) {
	t.Parallel()

	m := &fakeMatrix{snapshot: model.Snapshot{Power: model.PowerOn, Input: 2, Revision: 7}}
	w := do(newTestRouter(m, fakeScanner{}, nil), http.MethodGet, "/api/v1/matrix/state", "")

	require.Equal(t, http.StatusOK, w.Code)
	e := decode(t, w)
	assert.True(t, e.Success)
	assert.NotEmpty(t, e.RequestID)

	var s model.Snapshot
	require.NoError(t, json.Unmarshal(e.Data, &s))
	assert.Equal(t, model.PowerOn, s.Power)
	assert.Equal(t, 2, s.Input)
	assert.Equal(t, uint64(7), s.Revision)
}

func TestActuationRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		body string
		want protocol.Command
	}{
		{"/api/v1/matrix/power", `{"on": true}`, protocol.PowerOn()},
		{"/api/v1/matrix/power", `{"on": false}`, protocol.PowerOff()},
		{"/api/v1/matrix/input", `{"input": 3}`, protocol.SetInput(3)},
		{"/api/v1/matrix/audio", `{"source": 0}`, protocol.SetAudioOutput(0)},
		{"/api/v1/matrix/multiview", `{"mode": 5}`, protocol.SetMultiview(5)},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.body, func(t *testing.T) {
			t.Parallel()

			m := &fakeMatrix{}
			w := do(newTestRouter(m, fakeScanner{}, nil), http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			cmds := m.commands()
			require.Len(t, cmds, 1)
			assert.Equal(t, tt.want.Name(), cmds[0].Name())
			assert.Equal(t, tt.want.Params(), cmds[0].Params())
		})
	}
}

func TestActuationReturnsSnapshot(t *testing.T) {
	t.Parallel()

	m := &fakeMatrix{snapshot: model.Snapshot{Power: model.PowerOn, Input: 1}}
	w := do(newTestRouter(m, fakeScanner{}, nil), http.MethodPost, "/api/v1/matrix/input", `{"input": 4}`)
	require.Equal(t, http.StatusOK, w.Code)

	var s model.Snapshot
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &s))
	assert.Equal(t, 4, s.Input)
}

func TestBadRequestBodies(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"/api/v1/matrix/power":     `{}`,
		"/api/v1/matrix/input":     `{"input": 0}`,
		"/api/v1/matrix/audio":     `{"source": -1}`,
		"/api/v1/matrix/multiview": `not json`,
	}

	for path, body := range bodies {
		m := &fakeMatrix{}
		w := do(newTestRouter(m, fakeScanner{}, nil), http.MethodPost, path, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Empty(t, m.commands(), path)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{driver.ErrBusy, http.StatusConflict, "DEVICE_BUSY"},
		{fmt.Errorf("%w: ERR", driver.ErrDeviceRejected), http.StatusUnprocessableEntity, "DEVICE_REJECTED"},
		{fmt.Errorf("%w: out of range", driver.ErrInvalidCommand), http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("%w: no reply", driver.ErrTimeout), http.StatusGatewayTimeout, "DEVICE_TIMEOUT"},
		{fmt.Errorf("%w: unplugged", driver.ErrTransport), http.StatusBadGateway, "DEVICE_UNREACHABLE"},
		{driver.ErrMalformedLine, http.StatusBadGateway, "DEVICE_UNREACHABLE"},
	}

	for _, tt := range tests {
		m := &fakeMatrix{invokeErr: tt.err}
		w := do(newTestRouter(m, fakeScanner{}, nil), http.MethodPost, "/api/v1/matrix/input", `{"input": 2}`)

		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		e := decode(t, w)
		assert.False(t, e.Success)
		require.NotNil(t, e.Error)
		assert.Equal(t, tt.code, e.Error.Code)
		assert.Equal(t, tt.status, handler.StatusForError(tt.err))
	}
}

func TestRefreshRoute(t *testing.T) {
	t.Parallel()

	m := &fakeMatrix{}
	router := newTestRouter(m, fakeScanner{}, nil)

	w := do(router, http.MethodPost, "/api/v1/matrix/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)

	m.refreshErr = service.ErrRefreshThrottled
	w = do(router, http.MethodPost, "/api/v1/matrix/refresh", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var s model.Snapshot
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &s))
	assert.Equal(t, uint64(1), s.Revision)
}

func TestCommandEventsPublished(t *testing.T) {
	t.Parallel()

	bus := handler.NewEventBus(nil)
	events, cancel := bus.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Start(ctx) }()
	defer func() {
		stop()
		<-done
	}()

	m := &fakeMatrix{}
	router := newTestRouter(m, fakeScanner{}, bus)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/matrix/power", `{"on": true}`).Code)

	m.invokeErr = driver.ErrBusy
	require.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/api/v1/matrix/power", `{"on": false}`).Code)

	first := <-events
	assert.Equal(t, model.EventCommandExecuted, first.EventType)
	assert.Equal(t, string(protocol.CommandPowerOn), first.Command)

	second := <-events
	assert.Equal(t, model.EventCommandFailed, second.EventType)
	assert.Contains(t, second.Error, "pending")
}

func TestListPorts(t *testing.T) {
	t.Parallel()

	scanner := fakeScanner{ports: []discovery.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true, Configured: true}}}
	w := do(newTestRouter(&fakeMatrix{}, scanner, nil), http.MethodGet, "/api/v1/ports", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		PortsFound int                  `json:"ports_found"`
		Ports      []discovery.PortInfo `json:"ports"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 1, data.PortsFound)
	assert.True(t, data.Ports[0].Configured)

	w = do(newTestRouter(&fakeMatrix{}, fakeScanner{err: fmt.Errorf("denied")}, nil), http.MethodGet, "/api/v1/ports", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	m := &fakeMatrix{snapshot: model.InitialSnapshot()}
	router := newTestRouter(m, fakeScanner{}, nil)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/live", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/ready", "").Code)

	m.mu.Lock()
	m.snapshot = model.Snapshot{Power: model.PowerOn, Input: 1, Revision: 1}
	m.mu.Unlock()
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", "").Code)

	m.mu.Lock()
	m.snapshot.Stale = true
	m.snapshot.ConsecutiveFailures = 3
	m.snapshot.LastError = "device did not respond"
	m.mu.Unlock()

	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "device did not respond", health.Checks["device"].Message)
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/ready", "").Code)
}
