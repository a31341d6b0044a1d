package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery turns a panic in a handler, most likely inside image decoding
// or encoding, into a 500 that carries the request id so it can be
// matched against the logged stack.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			event := log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("method", c.Request.Method).
				Str("route", c.FullPath()).
				Str("request_id", RequestIDFrom(c))
			if claims, ok := CurrentUser(c); ok {
				event = event.Str("user_id", claims.UserID)
			}

			if err, ok := r.(error); ok && clientGone(err) {
				event.Msg("client disconnected mid-response")
				c.Abort()
				return
			}
			event.Msg("handler panicked")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "internal_server_error",
				"message":   "internal server error",
				"requestId": RequestIDFrom(c),
			})
		}()
		c.Next()
	}
}

func clientGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
