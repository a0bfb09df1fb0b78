package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/services"
	"github.com/rs/zerolog"
)

// RequestLogger writes one zerolog line per request and, when logService is
// set, an audit row for every /api request
func RequestLogger(logger zerolog.Logger, logService *services.LogService) gin.HandlerFunc {
	logger = logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		duration := time.Since(start)

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("request")

		if logService != nil && strings.HasPrefix(path, "/api/") {
			if err := logService.LogAPIRequest(c.Request.Method, path, status, duration.Milliseconds(), c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
				logger.Debug().Err(err).Msg("Failed to persist request log")
			}
		}
	}
}
