package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
)

func (s *Server) CreateCreditPack(c *gin.Context) {
	var req creditdomain.CreatePackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pack, err := s.creditSvc.CreatePack(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pack)
}

func (s *Server) ListCreditPacks(c *gin.Context) {
	packs, err := s.creditSvc.ListPacks(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credit_packs": packs})
}

type grantCreditsRequest struct {
	PackCode  string          `json:"pack_code"`
	Credits   decimal.Decimal `json:"credits"`
	Source    string          `json:"source"`
	SourceRef string          `json:"source_ref"`
	ExpiresAt *time.Time      `json:"expires_at"`
}

type grantCreditsResponse struct {
	Grant   *creditdomain.CreditGrant `json:"grant"`
	Created bool                      `json:"created"`
}

// GrantCredits issues credits outside checkout. source_ref keys the grant, so
// a retried request returns the existing grant.
func (s *Server) GrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	grant, created, err := s.creditSvc.Grant(c.Request.Context(), nil, creditdomain.GrantRequest{
		TenantID:  tenantID(c),
		PackCode:  req.PackCode,
		Credits:   req.Credits,
		Source:    req.Source,
		SourceRef: req.SourceRef,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, grantCreditsResponse{Grant: grant, Created: created})
}

type consumeCreditsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) ConsumeCredits(c *gin.Context) {
	var req consumeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.creditSvc.Consume(c.Request.Context(), tenantID(c), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
