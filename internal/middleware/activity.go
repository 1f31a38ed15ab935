package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// Context keys a handler sets to describe what an audited request touched.
const (
	ActivityResourceKey = "activity.resource_id"
	ActivityActorKey    = "activity.actor_id"
	ActivityDetailsKey  = "activity.details"
)

// ActorHeader carries the id of the user behind a request, as asserted by the
// gateway in front of this service.
const ActorHeader = "X-Actor-ID"

type activityWriter interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
}

// Activity records one activity entry after each successful request. A failed
// write is logged and never changes the response.
func Activity(store activityWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if store == nil || c.Writer.Status() >= 400 {
			return
		}

		entry := &models.ActivityLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			actor = c.GetString(ActivityActorKey)
		}
		if actor != "" {
			entry.ActorID = &actor
		}
		resourceID := c.GetString(ActivityResourceKey)
		if resourceID == "" {
			resourceID = c.Param("id")
		}
		if resourceID != "" {
			entry.ResourceID = &resourceID
		}

		details := map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		}
		if extra, ok := c.Get(ActivityDetailsKey); ok {
			if fields, ok := extra.(map[string]interface{}); ok {
				for k, v := range fields {
					details[k] = v
				}
			}
		}
		entry.Details, _ = json.Marshal(details)

		if err := store.Create(context.WithoutCancel(c.Request.Context()), entry); err != nil {
			logger.Warn("failed to record activity",
				zap.String("action", action),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
		}
	}
}
