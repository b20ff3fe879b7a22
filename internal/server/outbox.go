package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
)

// ListFailedOutbox shows relay rows that exhausted their attempts.
func (s *Server) ListFailedOutbox(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be an integer"))
			return
		}
		limit = parsed
	}

	events, err := s.scheduler.ListFailed(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if events == nil {
		events = []*eventdomain.RelayEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) RequeueOutbox(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, eventdomain.ErrNotFound)
		return
	}

	event, err := s.scheduler.Requeue(c.Request.Context(), tenantID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}
