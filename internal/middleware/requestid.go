package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request
	// identifier between the CRM frontend, this service, and the logs.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string
	// is stored for handlers and downstream middleware.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with a unique identifier. An inbound
// X-Request-ID (set by the ingress or the CRM frontend) is reused unchanged;
// otherwise a UUID v4 is generated. The id is stored under RequestIDKey, and
// echoed back in the response header so a client can quote it when reporting
// a problem — the audit trail and the request log can then be correlated to
// the exact call.
//
// Register this before the logging middleware so every log line carries the id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
