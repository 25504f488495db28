package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/subject"
)

type createDealRequest struct {
	Type           string         `json:"type"`
	SubjectType    string         `json:"subject_type"`
	SubjectID      string         `json:"subject_id"`
	Title          string         `json:"title"`
	RateBps        int32          `json:"rate_bps"`
	CapMultipleBps *int32         `json:"cap_multiple_bps"`
	TermEnd        *time.Time     `json:"term_end"`
	Priority       *int32         `json:"priority"`
	IsPublic       bool           `json:"is_public"`
	Metadata       map[string]any `json:"metadata"`
}

// @Summary      Create Deal
// @Description  Open a funding deal on a subject
// @Tags         deals
// @Accept       json
// @Produce      json
// @Param        request body createDealRequest true "Create Deal Request"
// @Success      200  {object}  dealdomain.Deal
// @Router       /deals [post]
func (s *Server) CreateDeal(c *gin.Context) {
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ref, err := subject.Parse(req.SubjectType, req.SubjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.dealSvc.CreateDeal(c.Request.Context(), dealdomain.CreateDealRequest{
		Type:           dealdomain.DealType(strings.TrimSpace(req.Type)),
		Subject:        ref,
		Title:          strings.TrimSpace(req.Title),
		RateBps:        req.RateBps,
		CapMultipleBps: req.CapMultipleBps,
		TermEnd:        req.TermEnd,
		Priority:       req.Priority,
		IsPublic:       req.IsPublic,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Deals
// @Description  List deals, optionally filtered by subject or status
// @Tags         deals
// @Produce      json
// @Param        subject_type query string false "Subject Type"
// @Param        subject_id   query string false "Subject ID"
// @Param        status       query string false "Status"
// @Param        public       query bool   false "Public Only"
// @Param        limit        query int    false "Limit"
// @Success      200  {object}  []dealdomain.Deal
// @Router       /deals [get]
func (s *Server) ListDeals(c *gin.Context) {
	req := dealdomain.ListDealsRequest{
		Status:     dealdomain.DealStatus(c.Query("status")),
		PublicOnly: c.Query("public") == "true",
	}
	req.Limit, _ = strconv.Atoi(c.Query("limit"))

	if c.Query("subject_id") != "" {
		ref, err := subject.Parse(c.Query("subject_type"), c.Query("subject_id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Subject = &ref
	}

	resp, err := s.dealSvc.ListDeals(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Deal
// @Description  Read one deal
// @Tags         deals
// @Produce      json
// @Param        id path string true "Deal ID"
// @Success      200  {object}  dealdomain.Deal
// @Router       /deals/{id} [get]
func (s *Server) GetDeal(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, dealdomain.ErrDealNotFound)
		return
	}

	resp, err := s.dealSvc.GetDeal(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateDealStatusRequest struct {
	Status string `json:"status"`
}

// @Summary      Update Deal Status
// @Description  Move a deal through its lifecycle
// @Tags         deals
// @Accept       json
// @Produce      json
// @Param        id      path string                  true "Deal ID"
// @Param        request body updateDealStatusRequest true "Update Deal Status Request"
// @Success      200  {object}  dealdomain.Deal
// @Router       /deals/{id}/status [patch]
func (s *Server) UpdateDealStatus(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, dealdomain.ErrDealNotFound)
		return
	}

	var req updateDealStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.dealSvc.UpdateDealStatus(c.Request.Context(), id, dealdomain.DealStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type fundDealRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// @Summary      Fund Deal
// @Description  Invest in a deal, creating or growing the caller's claim
// @Tags         deals
// @Accept       json
// @Produce      json
// @Param        id      path string          true "Deal ID"
// @Param        request body fundDealRequest true "Fund Deal Request"
// @Success      200  {object}  map[string]string
// @Router       /deals/{id}/fund [post]
func (s *Server) FundDeal(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, dealdomain.ErrDealNotFound)
		return
	}

	var req fundDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	claimID, err := s.dealSvc.FundDeal(c.Request.Context(), dealdomain.FundDealRequest{
		DealID:    id,
		Amount:    req.Amount,
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"claim_id": claimID.String()}})
}

// @Summary      List Claims
// @Description  List the claims on one deal, largest stake first
// @Tags         deals
// @Produce      json
// @Param        id path string true "Deal ID"
// @Success      200  {object}  []dealdomain.Claim
// @Router       /deals/{id}/claims [get]
func (s *Server) ListClaims(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, dealdomain.ErrDealNotFound)
		return
	}

	resp, err := s.dealSvc.ListClaims(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
