package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/usageledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/invoices/:id", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithTenantID(c.Request.Context(), "7"))
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("load invoice: %w", errors.New("connection reset")))
		c.Status(http.StatusInternalServerError)
	})

	for _, path := range []string{"/health", "/v1/invoices/42", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2, "health checks are not traced")

	assert.Equal(t, "GET /v1/invoices/:id", spans[0].Name())
	tenant, ok := attrValue(spans[0].Attributes(), "tenant_id")
	require.True(t, ok)
	assert.Equal(t, "7", tenant.AsString())

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
	msg, _ := attrValue(spans[1].Events()[0].Attributes, "exception.message")
	assert.Equal(t, "connection reset", msg.AsString())
}
