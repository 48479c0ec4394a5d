package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestWithDBSpan_RecordsError(t *testing.T) {
	recorder := withRecorder(t)
	boom := errors.New("boom")

	err := WithDBSpan(context.Background(), "users", OpFind, func(ctx context.Context) (int64, error) {
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, "db.find", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	}
}

func TestWithClientSpan_Success(t *testing.T) {
	recorder := withRecorder(t)

	err := WithClientSpan(context.Background(), "elevenlabs", "signed_url", func(ctx context.Context) error { return nil })

	assert.NoError(t, err)
	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, "elevenlabs.signed_url", spans[0].Name())
	}
}

func TestCallSpan_RecordsEndReason(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartCallSpan(context.Background(), "sess-1", "CA1", "MZ1")
	EndCallSpan(span, "agent_closed", nil)

	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, "call.session", spans[0].Name())
		assert.Equal(t, codes.Ok, spans[0].Status().Code)
		assert.Contains(t, spans[0].Attributes(), attribute.String("call.sid", "CA1"))
		assert.Contains(t, spans[0].Attributes(), attribute.String("call.end_reason", "agent_closed"))
	}
}

func TestCallSpan_ErrorAndNil(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartCallSpan(context.Background(), "sess-2", "CA2", "MZ2")
	EndCallSpan(span, "error", errors.New("agent dial failed"))
	EndCallSpan(nil, "error", nil)

	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	}
}

func TestGinMiddleware_SkipsHealthAndMetrics(t *testing.T) {
	recorder := withRecorder(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware("/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/get-caller-name", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/health", "/get-caller-name"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, "GET /get-caller-name", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	}
}
