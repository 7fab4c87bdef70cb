package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/platform/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id or assigns one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", c.GetString("requestID"),
		)
	}
}

// TeamScope parses the :teamID path parameter and stores it on the context.
func TeamScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, err := uuid.Parse(c.Param("teamID"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
			return
		}
		c.Set("teamID", teamID)
		c.Next()
	}
}

// TeamID returns the team set by TeamScope.
func TeamID(c *gin.Context) uuid.UUID {
	value, _ := c.Get("teamID")
	teamID, _ := value.(uuid.UUID)
	return teamID
}
