package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	billingoverviewdomain "github.com/smallbiznis/usageledger/internal/billingoverview/domain"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
)

func (s *Server) GetBillingOverview(c *gin.Context) {
	start, end, err := timeRange(c.Query("start"), c.Query("end"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if (start == nil) != (end == nil) {
		AbortWithError(c, newValidationError("range", "invalid_range", "start and end must be given together"))
		return
	}
	compare := false
	if raw := strings.TrimSpace(c.Query("compare")); raw != "" {
		compare, err = strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("compare", "invalid_compare", "compare must be a boolean"))
			return
		}
	}

	req := billingoverviewdomain.OverviewRequest{
		TenantID: tenantID(c),
		Compare:  compare,
	}
	if start != nil {
		req.Start = *start
		req.End = *end
	}
	overview, err := s.billingOverviewSvc.GetOverview(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

type subscriptionResponse struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
}

// GetSubscription returns the tenant's current subscription; null when the
// tenant has never subscribed.
func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.GetCurrent(c.Request.Context(), nil, tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscriptionResponse{Subscription: sub})
}

type creditsResponse struct {
	Balance *creditdomain.Balance       `json:"balance"`
	Grants  []*creditdomain.CreditGrant `json:"grants"`
}

func (s *Server) GetCredits(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)

	balance, err := s.creditSvc.Balance(ctx, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	grants, err := s.creditSvc.ListGrants(ctx, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if grants == nil {
		grants = []*creditdomain.CreditGrant{}
	}
	c.JSON(http.StatusOK, creditsResponse{Balance: balance, Grants: grants})
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req paymentdomain.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID = tenantID(c)

	session, err := s.paymentSvc.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) CreatePortal(c *gin.Context) {
	var req paymentdomain.CreatePortalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.TenantID = tenantID(c)

	session, err := s.paymentSvc.CreatePortalSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
