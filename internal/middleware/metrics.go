package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route so arbitrary
// URLs cannot grow the path label set.
const unmatchedRoute = "unmatched"

// Metrics records request count and latency per route template. Paths listed
// in skip (probes, the scrape endpoint) are not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		ignored[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if _, ok := ignored[path]; ok {
			return
		}
		if path == "" {
			path = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
