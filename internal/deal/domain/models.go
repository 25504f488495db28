package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
	"gorm.io/datatypes"
)

// DealType distinguishes the two funding instruments.
type DealType string

const (
	// DealTypeAdvance is recoupable and capped at invested x cap multiple.
	DealTypeAdvance DealType = "advance"
	// DealTypeRevenueShare is uncapped, optionally time-bounded.
	DealTypeRevenueShare DealType = "revenue_share"
)

// DealStatus is the deal lifecycle state. Only active deals accept
// funding and participate in allocation.
type DealStatus string

const (
	DealStatusDraft     DealStatus = "draft"
	DealStatusActive    DealStatus = "active"
	DealStatusPaused    DealStatus = "paused"
	DealStatusCompleted DealStatus = "completed"
	DealStatusCancelled DealStatus = "cancelled"
)

// ClaimStatus is the per-investor claim state.
type ClaimStatus string

const (
	ClaimStatusActive    ClaimStatus = "active"
	ClaimStatusCompleted ClaimStatus = "completed"
	ClaimStatusCancelled ClaimStatus = "cancelled"
)

// Deal is a funding instrument attached to exactly one subject (user
// XOR org). RateBps of every income event flows into this deal's pool;
// CapMultipleBps bounds advance recovery and is nil for revenue shares.
type Deal struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         *snowflake.ID     `gorm:"index"`
	OrgID          *snowflake.ID     `gorm:"index"`
	Title          string            `gorm:"type:text;not null"`
	Type           DealType          `gorm:"type:text;not null"`
	Status         DealStatus        `gorm:"type:text;not null;default:'draft';index"`
	IsPublic       bool              `gorm:"not null;default:false"`
	RateBps        int32             `gorm:"not null"`
	CapMultipleBps *int32            `gorm:""`
	TermEnd        *time.Time        `gorm:""`
	Priority       int32             `gorm:"not null;default:100"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Deal) TableName() string { return "deals" }

// Subject returns the deal's funded party.
func (d Deal) Subject() subject.Ref {
	if d.UserID != nil {
		return subject.Ref{Type: subject.TypeUser, ID: *d.UserID}
	}
	if d.OrgID != nil {
		return subject.Ref{Type: subject.TypeOrg, ID: *d.OrgID}
	}
	return subject.Ref{}
}

// InWindow reports whether an occurrence time falls inside the deal's
// active window. The window opens at creation and closes at TermEnd.
func (d Deal) InWindow(at time.Time) bool {
	if at.Before(d.CreatedAt) {
		return false
	}
	if d.TermEnd != nil && at.After(*d.TermEnd) {
		return false
	}
	return true
}

// Claim is one investor's stake in one deal, unique per (deal,
// investor). Funding is additive: repeat funding grows Invested and
// recomputes Cap instead of creating a second row.
// Invariant: Paid <= Accrued <= Cap when capped.
type Claim struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	DealID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_claims_deal_investor,priority:1"`
	InvestorID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_claims_deal_investor,priority:2"`
	Invested   int64        `gorm:"not null;default:0"`
	Cap        *int64       `gorm:""`
	Accrued    int64        `gorm:"not null;default:0"`
	Paid       int64        `gorm:"not null;default:0"`
	Status     ClaimStatus  `gorm:"type:text;not null;default:'active'"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Claim) TableName() string { return "claims" }

// Headroom returns the remaining cap space, or -1 when uncapped.
func (c Claim) Headroom() int64 {
	if c.Cap == nil {
		return -1
	}
	room := *c.Cap - c.Accrued
	if room < 0 {
		return 0
	}
	return room
}

// FundingRecord links one funding operation to the transfer that moved
// the principal. Reference doubles as the idempotency key.
type FundingRecord struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	DealID     snowflake.ID `gorm:"not null;index"`
	ClaimID    snowflake.ID `gorm:"not null;index"`
	InvestorID snowflake.ID `gorm:"not null;index"`
	Amount     int64        `gorm:"not null"`
	Reference  string       `gorm:"type:text;not null;uniqueIndex:ux_funding_records_reference"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FundingRecord) TableName() string { return "funding_records" }

// CapFor computes invested x capMultipleBps / 10000, rounding down.
func CapFor(invested int64, capMultipleBps *int32) *int64 {
	if capMultipleBps == nil {
		return nil
	}
	cap := invested * int64(*capMultipleBps) / 10000
	return &cap
}
