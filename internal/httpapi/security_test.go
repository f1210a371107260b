package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	env := newTestAPI(t, Options{})

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestAPI(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequireAuth(t *testing.T) {
	env := newTestAPI(t, Options{})

	missing := env.do(t, http.MethodPost, "/api/v1/sales/quote", "", cashCart("10000", item("prd_mie", 1)))
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	bogus := env.do(t, http.MethodPost, "/api/v1/sales/quote", "bogus", cashCart("10000", item("prd_mie", 1)))
	assert.Equal(t, http.StatusUnauthorized, bogus.Code)

	unknownRole := env.do(t, http.MethodPost, "/api/v1/sales/quote", env.token(t, "auditor"), cashCart("10000", item("prd_mie", 1)))
	assert.Equal(t, http.StatusForbidden, unknownRole.Code)
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	env := newTestAPI(t, Options{})

	body := `{"payment_method":"cash","items":[],"idempotency_key":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+env.token(t, roleCashier))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	env := newTestAPI(t, Options{PINAttemptsPerMinute: 2})
	result := env.checkout(t, cashCart("10000", item("prd_mie", 1)))
	path := "/api/v1/sales/" + result.Sale.ID + "/void"
	admin := env.token(t, roleAdmin)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, path, admin, map[string]any{"manager_pin": "000001"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	}

	rec := env.do(t, http.MethodPost, path, admin, map[string]any{"manager_pin": testManagerPIN})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestAPI(t, Options{AllowedOrigin: "https://till.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "https://till.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://till.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	foreign := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	foreign.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, foreign)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRouteIsOptional(t *testing.T) {
	without := newTestAPI(t, Options{})
	assert.Equal(t, http.StatusNotFound, without.do(t, http.MethodGet, "/metrics", "", nil).Code)

	with := newTestAPI(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})})
	rec := with.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestAttemptLimiterIsPerKey(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))

	var unset *attemptLimiter
	assert.True(t, unset.Allow("a"))
}

func TestClientKey(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"":                  "unknown",
		"pipe":              "pipe",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		assert.Equal(t, want, clientKey(req), remote)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 100, parsePositiveLimit("", 100, 500))
	assert.Equal(t, 100, parsePositiveLimit("-3", 100, 500))
	assert.Equal(t, 100, parsePositiveLimit("abc", 100, 500))
	assert.Equal(t, 25, parsePositiveLimit(" 25 ", 100, 500))
	assert.Equal(t, 500, parsePositiveLimit("9999", 100, 500))
}
