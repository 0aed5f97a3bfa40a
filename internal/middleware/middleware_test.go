package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"matrix-service/internal/config"
	"matrix-service/internal/middleware"
	"matrix-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(utils.NewServiceLogger(nil, "test")))
	router.Use(middleware.LoggingMiddleware(utils.NewServiceLogger(nil, "test")))
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, utils.GetRequestID(c))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return router
}

func TestRequestIDAssigned(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(middleware.RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(middleware.RequestIDHeader, id)

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, req)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestIDReplacesGarbage(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(middleware.RequestIDHeader, "not-an-id\r\n")

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, req)
	assert.NotEqual(t, "not-an-id\r\n", w.Body.String())
}

func TestRecoveryReturns500(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestRecoveryLogsRouteAndRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(utils.NewServiceLogger(zap.New(core), "test")))
	router.POST("/matrix/:action", func(c *gin.Context) {
		panic(errors.New("driver gone"))
	})

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/matrix/input", nil)
	req.Header.Set(middleware.RequestIDHeader, id)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/matrix/:action", fields["route"])
	assert.Equal(t, id, fields["request_id"])
	assert.Equal(t, "driver gone", fields["error"])
}

func TestRecoveryKeepsStartedResponse(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(utils.NewServiceLogger(nil, "test")))
	router.GET("/late", func(c *gin.Context) {
		c.String(http.StatusAccepted, "partial")
		panic("late failure")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(middleware.CORSMiddleware(&config.ServerConfig{AllowedOrigins: []string{"http://panel.local"}}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://panel.local", w.Header().Get("Access-Control-Allow-Origin"))
}
