package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// HeaderUserID carries the caller identity on routes that take no userId.
const HeaderUserID = "X-User-ID"

const ctxKeyUserID = "userID"

// UserID resolves the digest user a request acts on, in order: a value set
// by upstream auth under "userID", the :userId path parameter, the X-User-ID
// header, and finally the "userId" field of a JSON body. Returns "" when the
// request names no user.
//
// The body lookup uses ShouldBindBodyWith, so handlers must read JSON bodies
// the same way (the raw body has already been consumed).
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if p := strings.TrimSpace(c.Param("userId")); p != "" {
		return p
	}
	if c.Request == nil {
		return ""
	}
	if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
		return h
	}
	if id := bodyUserID(c); id != "" {
		c.Set(ctxKeyUserID, id)
		return id
	}
	return ""
}

func bodyUserID(c *gin.Context) string {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return ""
	}
	if c.ContentType() != binding.MIMEJSON {
		return ""
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return strings.TrimSpace(body.UserID)
}

// abortError writes the API error envelope and stops the chain. Handlers
// have their own copy of the envelope type; both must stay in sync.
func abortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"error":      msg,
	})
}
