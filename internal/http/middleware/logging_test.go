package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// accessLines returns the decoded "http_request" events in buf.
func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		if ev["message"] == "http_request" {
			out = append(out, ev)
		}
	}
	return out
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/digest/cron", func(c *gin.Context) {
		assert.NotEmpty(t, GetRequestID(c))
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/digest/cron", nil))
	assert.Len(t, w.Header().Get(requestIDHeader), 36, "uuid minted")

	for _, hdr := range []string{requestIDHeader, strings.ToLower(requestIDHeader)} {
		req := httptest.NewRequest(http.MethodGet, "/digest/cron", nil)
		req.Header.Set(hdr, "vercel-cron-7")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "vercel-cron-7", w.Header().Get(requestIDHeader), hdr)
	}
}

func TestAccessLog_LevelsFollowStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.GET("/digest/options", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/digest/history/:userId/:digestId", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	r.POST("/digest/test", func(c *gin.Context) {
		_ = c.Error(errors.New("provider exploded"))
		c.Status(http.StatusBadGateway)
	})

	for _, rq := range []struct{ method, path string }{
		{http.MethodGet, "/digest/options"},
		{http.MethodGet, "/digest/history/u-1/d-1"},
		{http.MethodPost, "/digest/test"},
		{http.MethodGet, "/nowhere"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(rq.method, rq.path, nil))
	}

	lines := accessLines(t, buf)
	require.Len(t, lines, 4)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "/digest/options", lines[0]["path"])

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "/digest/history/:userId/:digestId", lines[1]["path"], "route pattern, not raw ids")

	assert.Equal(t, "error", lines[2]["level"])
	assert.Contains(t, lines[2]["errors"], "provider exploded")

	assert.Equal(t, "warn", lines[3]["level"])
	assert.Equal(t, "/nowhere", lines[3]["path"], "raw path when no route matched")
}

func TestRecovery_PanicsToEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/digest/cron", func(c *gin.Context) { panic("selection blew up") })

	req := httptest.NewRequest(http.MethodGet, "/digest/cron", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "rid-panic", body["request_id"])
	assert.Equal(t, "internal_error", body["code"])
	assert.Equal(t, "internal server error", body["error"])

	out := buf.String()
	assert.Contains(t, out, "panic recovered")
	assert.Contains(t, out, "selection blew up")
	assert.Contains(t, out, `"stack"`)
}

func TestRecovery_PanicAfterWrite_NoEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/digest/options", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/digest/options", nil))

	assert.NotContains(t, w.Body.String(), "internal_error")
	assert.NotContains(t, strings.ToLower(w.Header().Get("Content-Type")), "application/json")
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf := captureLogger(t)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/plain", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("fallback")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Contains(t, buf.String(), `"message":"fallback"`)
	assert.NotContains(t, buf.String(), `"request_id"`)

	buf = captureLogger(t)
	r = gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.POST("/digest/trigger/:userId", func(c *gin.Context) {
		LoggerFrom(c).Info().Str("utc_hour", "01").Msg("manual trigger")
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/digest/trigger/u-5", nil)
	req.Header.Set(requestIDHeader, "rid-scoped")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var scoped map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		if ev["message"] == "manual trigger" {
			scoped = ev
		}
	}
	require.NotNil(t, scoped)
	assert.Equal(t, "rid-scoped", scoped["request_id"])
	assert.Equal(t, "/digest/trigger/:userId", scoped["path"])
	assert.Equal(t, http.MethodPost, scoped["method"])
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	assert.Equal(t, "x", asString("x"))
	assert.Equal(t, "", asString(7))

	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "abcde…", truncate("abcdefgh", 5))
	assert.Equal(t, "abc", truncate("abc", 0))
}
