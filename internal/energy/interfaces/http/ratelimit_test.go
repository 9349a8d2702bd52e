package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRateLimiterPerCaller(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2, nil)

	assert.True(t, limiter.Allow("gateway-a"))
	assert.True(t, limiter.Allow("gateway-a"))
	assert.False(t, limiter.Allow("gateway-a"))
	assert.True(t, limiter.Allow("gateway-b"))
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("any"))

	limiter := NewRateLimiter(0, 0, nil)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("any"))
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := AccessLog(zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, resp.Code)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "/healthz", fields["path"])
		assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	}
}
