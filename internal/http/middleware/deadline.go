package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NoWriteDeadline lifts the server's WriteTimeout for a long-running route.
// The scheduler pass paces users and waits on the content provider, so it
// routinely runs past a timeout sized for ordinary requests.
//
// It must see gin's own writer: wrappers that do not expose Unwrap (gzip)
// hide the connection, so routes using it are excluded from compression.
func NoWriteDeadline() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("write deadline not cleared")
		}
		c.Next()
	}
}
