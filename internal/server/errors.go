package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/subject"
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code }

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request"}
}

var errStatuses = map[error]int{
	identity.ErrNoCaller:                http.StatusUnauthorized,
	identity.ErrNotAuthorized:           http.StatusForbidden,
	subject.ErrInvalidSubject:           http.StatusBadRequest,
	accountdomain.ErrInvalidAmount:      http.StatusBadRequest,
	accountdomain.ErrInvalidReference:   http.StatusBadRequest,
	accountdomain.ErrSelfTransfer:       http.StatusBadRequest,
	accountdomain.ErrInsufficientFunds:  http.StatusConflict,
	accountdomain.ErrAccountNotFound:    http.StatusNotFound,
	dealdomain.ErrDealNotFound:          http.StatusNotFound,
	dealdomain.ErrClaimNotFound:         http.StatusNotFound,
	dealdomain.ErrDealNotActive:         http.StatusConflict,
	dealdomain.ErrInvalidTransition:     http.StatusConflict,
	dealdomain.ErrInvalidTitle:          http.StatusBadRequest,
	dealdomain.ErrInvalidRate:           http.StatusBadRequest,
	dealdomain.ErrInvalidCapMultiple:    http.StatusBadRequest,
	dealdomain.ErrInvalidDealType:       http.StatusBadRequest,
	dealdomain.ErrInvalidFundingInput:   http.StatusBadRequest,
	cashflowdomain.ErrEventNotFound:     http.StatusNotFound,
	cashflowdomain.ErrPayoutNotFound:    http.StatusNotFound,
	cashflowdomain.ErrInvalidEventInput: http.StatusBadRequest,
	cashflowdomain.ErrEventNotFailed:    http.StatusConflict,
}

// AbortWithError maps a service error onto an HTTP response.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	for sentinel, status := range errStatuses {
		if errors.Is(err, sentinel) {
			c.AbortWithStatusJSON(status, gin.H{"error": &apiError{
				Status:  status,
				Code:    sentinel.Error(),
				Message: sentinel.Error(),
			}})
			return
		}
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": &apiError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "internal error",
	}})
}
