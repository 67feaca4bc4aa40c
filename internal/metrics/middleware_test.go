package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(buf), zapcore.InfoLevel))
}

func TestHTTPMiddleware(t *testing.T) {
	reg := NewRegistry()

	var inFlight float64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight = testutil.ToFloat64(reg.httpRequestsInFlight)
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	HTTPMiddleware(reg)(handler).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, 1.0, inFlight)
	assert.Zero(t, testutil.ToFloat64(reg.httpRequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", "/metrics", "4xx")))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	LoggingMiddleware(bufferLogger(&buf))(handler).ServeHTTP(w, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())

	requestID := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, entry["request_id"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/metrics", entry["path"])
	assert.Equal(t, 200.0, entry["status"])
	assert.Equal(t, "10.0.0.1:54321", entry["client_ip"])
	assert.Contains(t, entry, "duration_ms")
}

func TestLoggingMiddleware_ForwardedRequest(t *testing.T) {
	var buf bytes.Buffer
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	LoggingMiddleware(bufferLogger(&buf))(handler).ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.True(t, strings.Contains(buf.String(), `"client_ip":"203.0.113.50"`), buf.String())
}

func TestRegistry_Handler(t *testing.T) {
	reg := NewRegistry()
	reg.RecordSignal("ma_crossover", "OPEN_LONG")

	w := httptest.NewRecorder()
	reg.Handler(nil).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tradeflow_signals_generated_total{kind="OPEN_LONG",strategy="ma_crossover"} 1`)
}
