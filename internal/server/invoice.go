package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
)

type listInvoicesQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

// ListInvoices serves the provider-mirrored invoice history, newest first.
func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListRequest{
		TenantID:   tenantID(c),
		Status:     strings.TrimSpace(query.Status),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, invoicedomain.ErrNotFound)
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}
