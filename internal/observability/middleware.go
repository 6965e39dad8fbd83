package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// probePaths are polled by supervisors and scrapers; successful hits are
// logged at debug so they do not drown out peer connections.
var probePaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			if _, probe := probePaths[path]; probe {
				event = logger.Debug()
			}
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath prefers the registered route so unknown paths do not explode
// label cardinality.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
