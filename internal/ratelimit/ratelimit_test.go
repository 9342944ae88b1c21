package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurstThenRejects(t *testing.T) {
	l := NewLimiter(2)
	require.True(t, l.Allow("client-a"))
	require.True(t, l.Allow("client-a"))
	require.False(t, l.Allow("client-a"))
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewLimiter(10)
	require.True(t, l.Allow("client-b"))
	require.True(t, l.Allow("client-b"))
	// drain the rest of the burst
	for l.Allow("client-b") {
	}
	time.Sleep(150 * time.Millisecond)
	require.True(t, l.Allow("client-b"), "tokens should have refilled after waiting")
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := NewLimiter(1)
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.False(t, l.Allow("a"))
	require.False(t, l.Allow("b"))
}

func TestMiddlewareRejectsExhaustedKeyWith429(t *testing.T) {
	l := NewLimiter(1)
	handler := l.Middleware(func(r *http.Request) string { return "fixed-key" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/upload", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/upload", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestMiddlewareFallsBackToRemoteAddrWhenKeyEmpty(t *testing.T) {
	l := NewLimiter(1)
	handler := l.Middleware(func(r *http.Request) string { return "" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
