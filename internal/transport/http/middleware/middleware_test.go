package httpmw_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	httpmw "github.com/cwrk-planet/code-room/internal/transport/http/middleware"
	"github.com/cwrk-planet/code-room/pkg/logger"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestID_Echoed(t *testing.T) {
	h := middleware.RequestID(httpmw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(httpmw.HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get(httpmw.HeaderRequestID))
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{Backend: logger.BackendStd, Env: logger.EnvDev, Output: &buf})

	h := httpmw.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, logger.FromContext(r.Context()))
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	out := buf.String()
	require.Contains(t, out, "http.request")
	require.Contains(t, out, "level=ERROR")
	require.Contains(t, out, "status=500")
	require.Contains(t, out, "path=/api/rooms")
}

func TestTracing_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var seen trace.SpanContext
	h := httpmw.Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ai/fix-code", nil))

	require.True(t, seen.IsValid())
	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "POST /ai/fix-code", spans[0].Name())
	require.Equal(t, seen.TraceID(), spans[0].SpanContext().TraceID())
}
