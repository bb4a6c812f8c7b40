package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/internal/events"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/service"
)

// SelfAudit records every handled request as an audit event in the service's
// own account. Dispatch happens off the request path and never affects the
// response.
func SelfAudit(factory *events.Factory, auditor service.InternalLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := events.HTTPRequest{
			Method:     c.Request.Method,
			URL:        c.Request.URL.String(),
			Path:       c.Request.URL.Path,
			ClientAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		}

		c.Next()

		req.StatusCode = c.Writer.Status()
		req.AffectedResources = 1
		req.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0

		go func() {
			event, err := factory.HTTPEvent(req, nil)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to build self-audit event")
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := auditor.LogInternal(ctx, []models.Event{event}); err != nil {
				log.Warn().Err(err).Msg("Failed to dispatch self-audit event")
			}
		}()
	}
}
