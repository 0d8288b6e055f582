package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payhttp "github.com/mihaimyh/payarmor/middleware/http"
	"github.com/mihaimyh/payarmor/pkg/payarmor"
	"github.com/mihaimyh/payarmor/storage/memory"
)

func newTestEngine(t *testing.T, maxRequests int64, store payarmor.CounterStore) *payarmor.Engine {
	t.Helper()
	engine, err := payarmor.NewEngine(store, payarmor.EngineConfig{
		TierRules: map[string][]payarmor.Rule{
			"starter": {
				{Name: "starter_per_minute", Window: time.Minute, MaxRequests: maxRequests, Scope: payarmor.ScopeTier},
			},
		},
		EndpointRules: map[string][]payarmor.Rule{},
	})
	require.NoError(t, err)
	return engine
}

func tenantFromHeaders(r *http.Request) (string, string) {
	return r.Header.Get("X-Tenant-ID"), r.Header.Get("X-Plan-Tier")
}

func TestMiddlewareEnforcesLimit(t *testing.T) {
	engine := newTestEngine(t, 2, memory.New())
	handler := payhttp.Middleware(payhttp.Config{
		Engine:    engine,
		GetTenant: tenantFromHeaders,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
		req.Header.Set("X-Tenant-ID", "tenant-a")
		req.Header.Set("X-Plan-Tier", "starter")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	second := do()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
	assert.NotEmpty(t, third.Header().Get("X-RateLimit-Reset"))
}

func TestMiddlewareRejectsUnidentifiedTenant(t *testing.T) {
	engine := newTestEngine(t, 10, memory.New())
	handler := payhttp.Middleware(payhttp.Config{
		Engine:    engine,
		GetTenant: tenantFromHeaders,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRecordsUsage(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(t, 10, store)
	recorder, err := payarmor.NewRecorder(store, payarmor.RecorderConfig{
		Now:    func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
		Sample: func() float64 { return 1.0 },
	})
	require.NoError(t, err)

	handler := payhttp.Middleware(payhttp.Config{
		Engine:    engine,
		Recorder:  recorder,
		GetTenant: tenantFromHeaders,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Plan-Tier", "starter")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	recorder.Close()

	require.Equal(t, http.StatusCreated, rec.Code)

	calls, err := store.GetUsage(context.Background(), "tenant-a", "2026-03", payarmor.MetricAPICalls)
	require.NoError(t, err)
	require.NotNil(t, calls)
	assert.Equal(t, int64(1), calls.Quantity)

	payments, err := store.GetUsage(context.Background(), "tenant-a", "2026-03", "payment_calls")
	require.NoError(t, err)
	require.NotNil(t, payments)
	assert.Equal(t, int64(1), payments.Quantity)
}

func TestMiddlewareCustomRejectionHandler(t *testing.T) {
	engine := newTestEngine(t, 0, memory.New())
	handler := payhttp.Middleware(payhttp.Config{
		Engine:    engine,
		GetTenant: tenantFromHeaders,
		OnRejected: func(w http.ResponseWriter, _ *http.Request, result *payarmor.Result) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(result.Rule))
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Plan-Tier", "starter")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "starter_per_minute", rec.Body.String())
}

func TestDefaultCallerIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:44321"
	assert.Equal(t, "192.0.2.10", payhttp.DefaultCallerIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", payhttp.DefaultCallerIP(req))
}
