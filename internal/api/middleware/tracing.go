package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/audit/internal/tracing"
)

// Tracing wraps each request in a transaction
func Tracing(tracer tracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := tracer.StartTransaction(c.Request.Method + " " + c.FullPath())
		defer tracer.EndTransaction(txn)

		tracer.AddAttribute(txn, "http.path", c.Request.URL.Path)
		tracer.AddAttribute(txn, "http.method", c.Request.Method)

		c.Next()

		tracer.AddAttribute(txn, "http.status_code", c.Writer.Status())
		if c.Writer.Status() >= 500 {
			tracer.RecordError(txn, fmt.Errorf("request failed with status %d", c.Writer.Status()))
		}
	}
}
