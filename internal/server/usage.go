package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
)

const idempotencyHeader = "Idempotency-Key"

type emitUsageResponse struct {
	Event    *usagedomain.UsageEvent `json:"event"`
	Replayed bool                    `json:"replayed"`
}

// EmitUsage records one usage event. A replayed idempotency key answers 200
// with the original event instead of 201.
func (s *Server) EmitUsage(c *gin.Context) {
	var req usagedomain.EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID = tenantID(c)
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyHeader))
	}

	result, err := s.usageSvc.Emit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, emitUsageResponse{Event: result.Event, Replayed: result.Replayed})
}

type listUsageQuery struct {
	EventKey string `form:"event_key"`
	From     string `form:"from"`
	To       string `form:"to"`
	pagination.Pagination
}

func (s *Server) ListUsage(c *gin.Context) {
	var query listUsageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	from, to, err := timeRange(query.From, query.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		TenantID:   tenantID(c),
		EventKey:   strings.TrimSpace(query.EventKey),
		From:       from,
		To:         to,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetUsage(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, ErrNotFound)
		return
	}
	event, err := s.usageSvc.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}
