package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ezzatsd/CynaApp/internal/platform/requestctx"
)

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))
	ctx := context.Background()

	log(ctx, "order.created", map[string]any{"orderId": "ord_1"})
	log(ctx, "order.payment_intent.create_failed", map[string]any{"orderId": "ord_1"})
	log(ctx, "payment.reconcile.unattributed", nil)
	log(ctx, "order.payment_intent.link_failed", map[string]any{"alert": true})

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ord_1", entries[0].ContextMap()["orderId"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore).With(zap.String("request_id", "req-1")))
	log(ctx, "payment.reconcile.applied", map[string]any{"orderId": "ord_1"})

	assert.Equal(t, 0, fallbackLogs.Len())
	require.Equal(t, 1, requestLogs.Len())
	assert.Equal(t, "req-1", requestLogs.All()[0].ContextMap()["request_id"])
}

func TestTraceMiddlewareContinuesTraceparent(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	handler := TraceMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, traceID, seen)
	assert.Contains(t, rr.Header().Get("traceparent"), traceID)
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware())
	router.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.SetUserID(r.Context(), "user-1")
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_x", nil))

	entries := logs.FilterMessage("request completed").AllUntimed()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "/api/v1/orders/{orderID}", fields["route"])
	assert.Equal(t, "user-1", fields["user_id"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"internal_server_error"`)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	router := chi.NewRouter()
	router.Use(metrics.Middleware())
	router.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.httpRequests.WithLabelValues("GET", "/api/v1/orders/{orderID}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestMetricsRecordersAndHandler(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveReconcile("payment_intent.succeeded", "applied")
	metrics.ObserveReconcile("payment_intent.succeeded", "applied")
	metrics.RecordVerification(context.Background(), "bearer", false, "token_expired", 2*time.Millisecond)
	metrics.ObserveWebhookRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.reconciled.WithLabelValues("payment_intent.succeeded", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.authChecks.WithLabelValues("bearer", "failure", "token_expired")))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "cyna_payments_events_reconciled_total"))
	assert.True(t, strings.Contains(body, "cyna_payments_webhook_signature_rejected_total 1"))
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, "/", SanitizeRoute(""))
	assert.Equal(t, "/api/v1/orders", SanitizeRoute("/api/v1/orders\n"))
	assert.Equal(t, "GET", SanitizeMethod("get\r"))
	assert.Len(t, []rune(SanitizeUserID(strings.Repeat("é", 100))), userIDLimit)
	assert.Equal(t, "forgedline", sanitizeString("forged\nline", 64))
}
