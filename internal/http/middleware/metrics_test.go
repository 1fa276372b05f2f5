package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RouteLabelIsPattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())

	const pattern = "/digest/history/:userId"
	r.GET(pattern, func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/digest/history/:userId/:digestId", func(c *gin.Context) {
		c.Status(http.StatusNotModified)
	})

	base := testutil.ToFloat64(httpReqs.WithLabelValues("GET", pattern, "200"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404"))

	for _, u := range []string{"guest_1", "guest_2", "guest_3"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/digest/history/"+u, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/digest/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	// A status-only response has size -1 and skips the size histogram.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/digest/history/guest_1/d-1", nil))
	require.Equal(t, http.StatusNotModified, w.Code)

	assert.Equal(t, base+3, testutil.ToFloat64(httpReqs.WithLabelValues("GET", pattern, "200")),
		"three users, one series")
	assert.Equal(t, baseMiss+1, testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404")))
	assert.Zero(t, testutil.ToFloat64(httpInflight))
}

func TestMetrics_InflightDuringRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())

	var during float64
	r.GET("/digest/cron", func(c *gin.Context) {
		during = testutil.ToFloat64(httpInflight)
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/digest/cron", nil))
	assert.GreaterOrEqual(t, during, 1.0)
	assert.Zero(t, testutil.ToFloat64(httpInflight))
}
