// Package middleware provides Gin HTTP middleware components for the CRM API.
// All middleware in this package is registered in internal/api/router.go before any
// route handlers so that every request is covered regardless of handler.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridian-crm/meridian/internal/telemetry"
)

// MetricsMiddleware records a request counter and a latency histogram for
// every request (telemetry.HTTPRequestsTotal, telemetry.HTTPRequestDuration).
//
// The path label is the matched Gin route template (e.g.
// /api/v1/notifications/:id), never the raw URL; requests that match no route
// are labelled "<no-route>" so scanners probing random paths cannot inflate
// label cardinality. Register after gin.Recovery() so the status written by
// the panic handler is the one recorded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "<no-route>"
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.
			WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.
			WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
