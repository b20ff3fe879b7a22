package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
)

type listLedgerQuery struct {
	MeterID string `form:"meter_id"`
	From    string `form:"from"`
	To      string `form:"to"`
	pagination.Pagination
}

func (s *Server) ListLedger(c *gin.Context) {
	var query listLedgerQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	meterID, err := parseOptionalSnowflakeID(query.MeterID)
	if err != nil {
		AbortWithError(c, newValidationError("meter_id", "invalid_meter_id", "invalid meter id"))
		return
	}
	from, to, err := timeRange(query.From, query.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := ledgerdomain.ListRequest{
		TenantID:   tenantID(c),
		From:       from,
		To:         to,
		Pagination: query.Pagination,
	}
	if meterID != nil {
		req.MeterID = *meterID
	}
	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) LedgerTotals(c *gin.Context) {
	from, to, err := timeRange(c.Query("from"), c.Query("to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	totals, err := s.ledgerSvc.Totals(c.Request.Context(), tenantID(c), from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totals": totals})
}
