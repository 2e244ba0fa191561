package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPropagatesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())

	var seenGin, seenCtx string
	r.GET("/", func(c *gin.Context) {
		seenGin = GetCorrelationID(c)
		seenCtx = CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", seenGin)
	assert.Equal(t, "req-42", seenCtx)
	assert.Equal(t, "req-42", w.Header().Get(CorrelationIDHeader))
}

func TestCorrelationIDGeneratedWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(CorrelationIDHeader)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestCorrelationIDFromContext(t *testing.T) {
	assert.Empty(t, CorrelationIDFromContext(context.Background()))

	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationIDFromContext(ctx))
}
