package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-generation-core/internal/middleware"
)

// IdempotencyHeader lets callers choose the key that deduplicates a trigger.
const IdempotencyHeader = "Idempotency-Key"

func idempotencyKeyFromContext(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(IdempotencyHeader))
}

// describeActivity hands the activity middleware the entity a request touched.
func describeActivity(c *gin.Context, resourceID, actorID string, details map[string]interface{}) {
	c.Set(middleware.ActivityResourceKey, resourceID)
	if actorID != "" {
		c.Set(middleware.ActivityActorKey, actorID)
	}
	c.Set(middleware.ActivityDetailsKey, details)
}
