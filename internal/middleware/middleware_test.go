package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rag-chat-go/pkg/log"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestLogger_CapturesBodies(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log.SetLogger(zap.New(core))
	t.Cleanup(func() { log.SetLogger(nil) })

	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/api/chat", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`)))

	assert.Equal(t, "pong", w.Body.String())
	entries := logs.FilterMessage("HTTP Request Log").All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, `{"message":"hi"}`, ctx["requestBody"])
		assert.Equal(t, "pong", ctx["responseBody"])
		assert.EqualValues(t, http.StatusOK, ctx["statusCode"])
	}
}

func TestRequestLogger_SkipsStreams(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log.SetLogger(zap.New(core))
	t.Cleanup(func() { log.SetLogger(nil) })

	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/api/chat/stream", func(c *gin.Context) {
		c.String(http.StatusOK, "data: x\n\n")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{}`)))

	entries := logs.FilterMessage("HTTP Request Log").All()
	if assert.Len(t, entries, 1) {
		assert.NotContains(t, entries[0].ContextMap(), "responseBody")
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
