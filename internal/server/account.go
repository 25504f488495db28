package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	"github.com/smallbiznis/cashflow/internal/subject"
)

type createTransferRequest struct {
	FromType  string         `json:"from_type"`
	FromID    string         `json:"from_id"`
	ToType    string         `json:"to_type"`
	ToID      string         `json:"to_id"`
	Amount    int64          `json:"amount"`
	Reference string         `json:"reference"`
	Metadata  map[string]any `json:"metadata"`
}

// @Summary      Create Transfer
// @Description  Move funds between two accounts
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body createTransferRequest true "Create Transfer Request"
// @Success      200  {object}  accountdomain.TransferResult
// @Router       /transfers [post]
func (s *Server) CreateTransfer(c *gin.Context) {
	var req createTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := subject.Parse(req.FromType, req.FromID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := subject.Parse(req.ToType, req.ToID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.accountSvc.Transfer(c.Request.Context(), accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    req.Amount,
		Kind:      accountdomain.KindTransfer,
		Reference: strings.TrimSpace(req.Reference),
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Account
// @Description  Read one owner's account balances
// @Tags         accounts
// @Produce      json
// @Param        owner_type path string true "Owner Type"
// @Param        owner_id   path string true "Owner ID"
// @Success      200  {object}  accountdomain.Account
// @Router       /accounts/{owner_type}/{owner_id} [get]
func (s *Server) GetAccount(c *gin.Context) {
	ref, err := subject.Parse(c.Param("owner_type"), c.Param("owner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.accountSvc.GetAccount(c.Request.Context(), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Ledger Entries
// @Description  List one account's ledger entries, newest first
// @Tags         accounts
// @Produce      json
// @Param        owner_type path  string true  "Owner Type"
// @Param        owner_id   path  string true  "Owner ID"
// @Param        limit      query int    false "Limit"
// @Success      200  {object}  []accountdomain.LedgerEntry
// @Router       /accounts/{owner_type}/{owner_id}/entries [get]
func (s *Server) ListLedgerEntries(c *gin.Context) {
	ref, err := subject.Parse(c.Param("owner_type"), c.Param("owner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	resp, err := s.accountSvc.ListEntries(c.Request.Context(), ref, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
