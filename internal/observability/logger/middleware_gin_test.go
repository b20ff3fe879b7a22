package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedEngine(t *testing.T, cfg MiddlewareConfig) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	r := gin.New()
	r.Use(GinMiddleware(cfg))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/usage", func(c *gin.Context) {
		_ = c.Error(errors.New("invalid_event_key"))
		c.Status(http.StatusBadRequest)
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
		c.Status(http.StatusInternalServerError)
	})
	return r, logs
}

func serve(r *gin.Engine, method, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGinMiddlewareLevels(t *testing.T) {
	classify := func(error) (string, string) { return "validation_error", "invalid_event_key" }
	r, logs := newObservedEngine(t, MiddlewareConfig{
		ErrorClassifier:       classify,
		QuietValidationRoutes: []string{"/v1/usage"},
	})

	serve(r, http.MethodGet, "/health")
	serve(r, http.MethodPost, "/v1/usage")
	serve(r, http.MethodGet, "/boom")

	entries := logs.FilterMessage("http.request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "invalid_event_key", entries[1].ContextMap()["error_code"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestGinMiddlewareRequestID(t *testing.T) {
	r, logs := newObservedEngine(t, MiddlewareConfig{})

	rec := serve(r, http.MethodGet, "/health", RequestIDHeader, "req-abc")
	assert.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-abc", logs.All()[0].ContextMap()["request_id"])

	rec = serve(r, http.MethodGet, "/health")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
