package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
)

var (
	ErrDealNotFound        = errors.New("deal_not_found")
	ErrDealNotActive       = errors.New("deal_not_active")
	ErrClaimNotFound       = errors.New("claim_not_found")
	ErrInvalidTitle        = errors.New("invalid_title")
	ErrInvalidRate         = errors.New("invalid_rate")
	ErrInvalidCapMultiple  = errors.New("invalid_cap_multiple")
	ErrInvalidDealType     = errors.New("invalid_deal_type")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrInvalidFundingInput = errors.New("invalid_funding_input")
)

// CreateDealRequest opens a draft or active deal on one subject.
type CreateDealRequest struct {
	Type           DealType
	Subject        subject.Ref
	Title          string
	RateBps        int32
	CapMultipleBps *int32
	TermEnd        *time.Time
	Priority       *int32
	IsPublic       bool
	Metadata       map[string]any
}

// FundDealRequest moves principal from the caller into the deal's
// subject account. Reference is optional; when empty a fresh
// idempotency token is generated.
type FundDealRequest struct {
	DealID    snowflake.ID
	Amount    int64
	Reference string
}

type ListDealsRequest struct {
	Subject    *subject.Ref
	Status     DealStatus
	PublicOnly bool
	Limit      int
}

// Service manages deals, claims and the funding operation.
type Service interface {
	CreateDeal(ctx context.Context, req CreateDealRequest) (*Deal, error)
	GetDeal(ctx context.Context, id snowflake.ID) (*Deal, error)
	ListDeals(ctx context.Context, req ListDealsRequest) ([]Deal, error)
	UpdateDealStatus(ctx context.Context, id snowflake.ID, status DealStatus) (*Deal, error)

	// FundDeal returns the claim id, creating or growing the caller's
	// claim. Safe to retry with the same reference.
	FundDeal(ctx context.Context, req FundDealRequest) (snowflake.ID, error)
	ListClaims(ctx context.Context, dealID snowflake.ID) ([]Claim, error)
}
