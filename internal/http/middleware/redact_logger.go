// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger of the API. It
// attaches a request-scoped zerolog.Logger for handlers and services (see
// LoggerFrom) and emits one structured line per request with obvious PII and
// device credentials scrubbed.
//
// Never logs request or response bodies. Redacts emails, phone numbers,
// UUIDs and Expo push tokens from the query string, headers and the
// resolved user id. Authorization, Cookie and Set-Cookie are always masked.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// maxQueryLogLength caps the number of bytes of the raw query string logged.
const maxQueryLogLength = 2048

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders specifies extra HTTP header names whose values will be fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie").
type RedactOptions struct {
	MaskHeaders []string
}

var (
	pushTokenRE = regexp.MustCompile(`Expo(?:nent)?PushToken\[[^\]]*\]`)
	uuidRE      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redact scrubs push tokens, UUIDs, emails, and phone numbers from s, in
// that order (the phone pattern is the loosest and must run last).
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = pushTokenRE.ReplaceAllString(s, "[REDACTED:push_token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger returns the access-log middleware. Level is INFO, WARN for
// 4xx, ERROR for 5xx or when handlers recorded gin errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		scoped := log.With().
			Str("request_id", requestIDOf(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = Redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := scoped.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = scoped.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = scoped.Warn()
		}

		ev.
			Str("user_id", Redact(UserID(c))).
			Str("query", truncate(Redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// requestIDOf prefers the ID minted by RequestID, then whatever an upstream
// proxy or middleware put on the response or request.
func requestIDOf(c *gin.Context) string {
	if rid := GetRequestID(c); rid != "" {
		return rid
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}
