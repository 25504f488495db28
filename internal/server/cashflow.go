package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	"github.com/smallbiznis/cashflow/internal/subject"
)

type recordIncomeEventRequest struct {
	SubjectType         string         `json:"subject_type"`
	SubjectID           string         `json:"subject_id"`
	Amount              int64          `json:"amount"`
	SourceType          string         `json:"source_type"`
	SourceRef           *string        `json:"source_ref"`
	SourceLedgerEntryID *string        `json:"source_ledger_entry_id"`
	OccurredAt          *time.Time     `json:"occurred_at"`
	Metadata            map[string]any `json:"metadata"`
}

// @Summary      Record Income Event
// @Description  Register income for a subject and run the waterfall
// @Tags         cashflow
// @Accept       json
// @Produce      json
// @Param        request body recordIncomeEventRequest true "Record Income Event Request"
// @Success      200  {object}  cashflowdomain.IncomeEvent
// @Router       /income-events [post]
func (s *Server) RecordIncomeEvent(c *gin.Context) {
	var req recordIncomeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ref, err := subject.Parse(req.SubjectType, req.SubjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record := cashflowdomain.RecordIncomeEventRequest{
		Subject:    ref,
		Amount:     req.Amount,
		SourceType: strings.TrimSpace(req.SourceType),
		SourceRef:  req.SourceRef,
		OccurredAt: req.OccurredAt,
		Metadata:   req.Metadata,
	}
	if req.SourceLedgerEntryID != nil {
		entryID, err := snowflake.ParseString(*req.SourceLedgerEntryID)
		if err != nil {
			AbortWithError(c, cashflowdomain.ErrInvalidEventInput)
			return
		}
		record.SourceLedgerEntryID = &entryID
	}

	eventID, err := s.cashflowSvc.RecordIncomeEvent(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.cashflowSvc.GetEvent(c.Request.Context(), eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Income Event
// @Description  Read one income event
// @Tags         cashflow
// @Produce      json
// @Param        id path string true "Event ID"
// @Success      200  {object}  cashflowdomain.IncomeEvent
// @Router       /income-events/{id} [get]
func (s *Server) GetIncomeEvent(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, cashflowdomain.ErrEventNotFound)
		return
	}

	resp, err := s.cashflowSvc.GetEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Process Income Event
// @Description  Run the waterfall for one event
// @Tags         cashflow
// @Produce      json
// @Param        id path string true "Event ID"
// @Success      200  {object}  map[string]bool
// @Router       /income-events/{id}/process [post]
func (s *Server) ProcessIncomeEvent(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, cashflowdomain.ErrEventNotFound)
		return
	}

	processed, err := s.cashflowSvc.ProcessIncomeEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"processed": processed}})
}

// @Summary      List Failed Events
// @Description  List events whose allocation errored
// @Tags         cashflow
// @Produce      json
// @Param        limit query int false "Limit"
// @Success      200  {object}  []cashflowdomain.IncomeEvent
// @Router       /income-events/failed [get]
func (s *Server) ListFailedEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	resp, err := s.cashflowSvc.ListFailedEvents(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Replay Event
// @Description  Clear a failed event's error and rerun allocation
// @Tags         cashflow
// @Produce      json
// @Param        id path string true "Event ID"
// @Success      200  {object}  map[string]bool
// @Router       /income-events/{id}/replay [post]
func (s *Server) ReplayEvent(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, cashflowdomain.ErrEventNotFound)
		return
	}

	processed, err := s.cashflowSvc.ReplayEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"processed": processed}})
}

// @Summary      List Payouts
// @Description  List payout obligations
// @Tags         cashflow
// @Produce      json
// @Param        subject_type query string false "Subject Type"
// @Param        subject_id   query string false "Subject ID"
// @Param        payee_id     query string false "Payee ID"
// @Param        status       query string false "Status"
// @Param        limit        query int    false "Limit"
// @Success      200  {object}  []cashflowdomain.Payout
// @Router       /payouts [get]
func (s *Server) ListPayouts(c *gin.Context) {
	req := cashflowdomain.ListPayoutsRequest{
		Status: cashflowdomain.PayoutStatus(c.Query("status")),
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
	if raw := c.Query("payee_id"); raw != "" {
		payeeID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		req.PayeeID = payeeID
	}

	resp, err := s.cashflowSvc.ListPayouts(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Payout
// @Description  Read one payout
// @Tags         cashflow
// @Produce      json
// @Param        id path string true "Payout ID"
// @Success      200  {object}  cashflowdomain.Payout
// @Router       /payouts/{id} [get]
func (s *Server) GetPayout(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, cashflowdomain.ErrPayoutNotFound)
		return
	}

	resp, err := s.cashflowSvc.GetPayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Settle Payout
// @Description  Pay the outstanding amount as far as funds allow
// @Tags         cashflow
// @Produce      json
// @Param        id path string true "Payout ID"
// @Success      200  {object}  cashflowdomain.SettleResult
// @Router       /payouts/{id}/settle [post]
func (s *Server) SettlePayout(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, cashflowdomain.ErrPayoutNotFound)
		return
	}

	resp, err := s.cashflowSvc.SettlePayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type sweepPayoutsRequest struct {
	Limit int `json:"limit"`
}

// @Summary      Sweep Payouts
// @Description  Retry settlement for stalled payouts
// @Tags         cashflow
// @Accept       json
// @Produce      json
// @Param        request body sweepPayoutsRequest false "Sweep Payouts Request"
// @Success      200  {object}  map[string]int
// @Router       /payouts/sweep [post]
func (s *Server) SweepPayouts(c *gin.Context) {
	var req sweepPayoutsRequest
	_ = c.ShouldBindJSON(&req)

	progressed, err := s.cashflowSvc.SweepPendingPayouts(c.Request.Context(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"progressed": progressed}})
}
