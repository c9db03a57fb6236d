package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ObserveRequests logs each status request and records it in the HTTP
// metrics. Routes are labelled by their pattern so ids never reach labels.
func ObserveRequests(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Msg("observability.ObserveRequests")
	}
}
