package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logging returns a middleware for structured request logging.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// metadata only, bodies may carry passwords
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

// Recover returns a middleware that turns panics into 500 responses.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Error: "internal"})
			}
		}()
		c.Next()
	}
}

// requireSession aborts with 401 unless this context has a session.
func (s *Server) requireSession(c *gin.Context) {
	sess, err := s.auth.CurrentSession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if sess == nil {
		abortError(c, http.StatusUnauthorized, "login required")
		return
	}
	c.Next()
}

// requireAdmin aborts with 401 without a session and 403 for non-admins.
func (s *Server) requireAdmin(c *gin.Context) {
	sess, err := s.auth.CurrentSession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if sess == nil {
		abortError(c, http.StatusUnauthorized, "login required")
		return
	}
	if !sess.IsAdmin() {
		abortError(c, http.StatusForbidden, "admin only")
		return
	}
	c.Next()
}
