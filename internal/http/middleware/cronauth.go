// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the cron trigger. The platform scheduler calls
// GET /digest/cron with "Authorization: Bearer <CRON_SECRET>". By default a
// mismatch is logged and the request still runs, which keeps deployments
// without a configured secret working; strict mode rejects it with 401.
// The manual per-user trigger is always strict.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Cron auth outcomes (label values of cron_auth_checks_total).
const (
	CronAuthOK       = "ok"
	CronAuthMismatch = "mismatch"
	CronAuthDisabled = "disabled"
)

var cronAuthChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cron_auth_checks_total",
		Help: "Cron trigger authorization checks by outcome.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cronAuthChecks)
}

// CronAuth compares the Authorization header against "Bearer "+secret.
// An empty secret disables the check.
func CronAuth(secret string, strict bool) gin.HandlerFunc {
	want := []byte("Bearer " + secret)
	return func(c *gin.Context) {
		if secret == "" {
			cronAuthChecks.WithLabelValues(CronAuthDisabled).Inc()
			c.Next()
			return
		}
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) == 1 {
			cronAuthChecks.WithLabelValues(CronAuthOK).Inc()
			c.Next()
			return
		}

		cronAuthChecks.WithLabelValues(CronAuthMismatch).Inc()
		LoggerFrom(c).Warn().
			Bool("strict", strict).
			Bool("header_present", len(got) > 0).
			Msg("cron request without proper authorization")
		if strict {
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid cron credentials")
			return
		}
		c.Next()
	}
}

// TriggerAuth guards the manual per-user trigger. Unlike the cron pass it
// never runs unauthenticated: without a configured secret every call is
// rejected.
func TriggerAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) {
			cronAuthChecks.WithLabelValues(CronAuthDisabled).Inc()
			LoggerFrom(c).Warn().Msg("manual trigger rejected: CRON_SECRET not configured")
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid cron credentials")
		}
	}
	return CronAuth(secret, true)
}
