package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/pkg/middleware/requestid"
)

const requestStartKey = "request_start"

// WithResponseMeta stamps the request start so handlers can report timing.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Next()
	}
}

// ExtractMeta returns the response meta block for the current request.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	meta := map[string]interface{}{}
	if c == nil {
		return meta
	}
	if v, ok := c.Get(requestStartKey); ok {
		if start, ok := v.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
	if id := requestid.Value(c); id != "" {
		meta["request_id"] = id
	}
	return meta
}
