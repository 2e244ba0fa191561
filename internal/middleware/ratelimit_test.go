package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimitedRouter(rps, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(rps, burst).Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doGet(r *gin.Engine, path, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterThrottlesAfterBurst(t *testing.T) {
	r := rateLimitedRouter(1, 2)

	for i := 0; i < 2; i++ {
		w := doGet(r, "/api", "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doGet(r, "/api", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "retry_after")
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	r := rateLimitedRouter(1, 1)

	require.Equal(t, http.StatusOK, doGet(r, "/api", "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, doGet(r, "/api", "10.0.0.1").Code)

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, doGet(r, "/api", "10.0.0.2").Code)
}

func TestRateLimiterSkipsHealthChecks(t *testing.T) {
	r := rateLimitedRouter(1, 1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doGet(r, "/health", "10.0.0.1").Code)
	}
}
