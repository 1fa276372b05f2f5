// Package utils provides small helpers for the HTTP layer that carry no
// digest business rules: query parsing and weak ETag construction.
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AtoiDefault parses s as a decimal int and returns def when s is empty or
// not a number. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// WeakETag builds W/"<scope>:<userID>:<count>:<unread>:<unix newest>".
// newest may be nil for an empty collection. unread changes when a digest is
// opened, which count and newest alone do not capture.
func WeakETag(scope, userID string, count, unread int64, newest *time.Time) string {
	var ts int64
	if newest != nil {
		ts = newest.UTC().UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d:%d"`, scope, userID, count, unread, ts)
}

// ETagMatches implements weak comparison for If-None-Match: "*" matches
// anything, otherwise any comma-separated entry must equal etag once the W/
// prefix is ignored on both sides.
func ETagMatches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, cand := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(cand), "W/") == want {
			return true
		}
	}
	return false
}
