package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
)

func meterIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, meterdomain.ErrNotFound)
		return 0, false
	}
	return id, true
}

func (s *Server) CreateMeter(c *gin.Context) {
	var req meterdomain.CreateMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	meter, err := s.meterSvc.CreateMeter(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meter)
}

func (s *Server) ListMeters(c *gin.Context) {
	meters, err := s.meterSvc.ListMeters(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meters": meters})
}

func (s *Server) GetMeter(c *gin.Context) {
	id, ok := meterIDParam(c)
	if !ok {
		return
	}
	meter, err := s.meterSvc.GetMeter(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, meter)
}

func (s *Server) ActivateMeter(c *gin.Context) {
	s.setMeterActive(c, true)
}

// DeactivateMeter stops rating for the event key. Usage already emitted stays
// in the outbox and is skipped by the ledger writer.
func (s *Server) DeactivateMeter(c *gin.Context) {
	s.setMeterActive(c, false)
}

func (s *Server) setMeterActive(c *gin.Context, active bool) {
	id, ok := meterIDParam(c)
	if !ok {
		return
	}
	meter, err := s.meterSvc.SetActive(c.Request.Context(), id, active)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, meter)
}

func (s *Server) AddMeterRate(c *gin.Context) {
	id, ok := meterIDParam(c)
	if !ok {
		return
	}
	var req meterdomain.AddRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.MeterID = id

	rate, err := s.meterSvc.AddRate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rate)
}

func (s *Server) ListMeterRates(c *gin.Context) {
	id, ok := meterIDParam(c)
	if !ok {
		return
	}
	rates, err := s.meterSvc.ListRates(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rates})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req subscriptiondomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.subscriptionSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.subscriptionSvc.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
