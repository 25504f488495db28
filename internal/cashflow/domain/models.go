package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
	"gorm.io/datatypes"
)

// PayoutStatus is the settlement progress of one payout obligation.
type PayoutStatus string

const (
	PayoutStatusPending       PayoutStatus = "pending"
	PayoutStatusPartiallyPaid PayoutStatus = "partially_paid"
	PayoutStatusPaid          PayoutStatus = "paid"
	PayoutStatusCancelled     PayoutStatus = "cancelled"
)

// IncomeEvent records money the subject received from any source.
// (SourceType, SourceLedgerEntryID) is unique so the same upstream
// transaction can never be counted twice. A failed allocation is
// recorded in ProcessingError instead of rolling the event back.
type IncomeEvent struct {
	ID                  snowflake.ID      `gorm:"primaryKey"`
	OwnerType           subject.Type      `gorm:"type:text;not null;index:ix_income_events_owner"`
	OwnerID             snowflake.ID      `gorm:"not null;index:ix_income_events_owner"`
	Amount              int64             `gorm:"not null"`
	SourceType          string            `gorm:"type:text;not null;uniqueIndex:ux_income_events_source,priority:1"`
	SourceRef           *string           `gorm:"type:text"`
	SourceLedgerEntryID *snowflake.ID     `gorm:"uniqueIndex:ux_income_events_source,priority:2"`
	OccurredAt          time.Time         `gorm:"not null;index"`
	ProcessedAt         *time.Time        `gorm:"index"`
	ProcessingError     *string           `gorm:"type:text"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (IncomeEvent) TableName() string { return "income_events" }

func (e IncomeEvent) Subject() subject.Ref {
	return subject.Ref{Type: e.OwnerType, ID: e.OwnerID}
}

// Payout is the obligation owed to one claim from one income event,
// unique per (event, claim). Reference is assigned once and anchors
// the idempotency of settlement transfers across retries.
type Payout struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	EventID   snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payouts_event_claim,priority:1"`
	ClaimID   snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payouts_event_claim,priority:2"`
	DealID    snowflake.ID      `gorm:"not null;index"`
	OwnerType subject.Type      `gorm:"type:text;not null;index:ix_payouts_owner"`
	OwnerID   snowflake.ID      `gorm:"not null;index:ix_payouts_owner"`
	PayeeID   snowflake.ID      `gorm:"not null;index"`
	Amount    int64             `gorm:"not null"`
	Paid      int64             `gorm:"not null;default:0"`
	Status    PayoutStatus      `gorm:"type:text;not null;default:'pending';index"`
	Reference string            `gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payout) TableName() string { return "payouts" }

func (p Payout) Subject() subject.Ref {
	return subject.Ref{Type: p.OwnerType, ID: p.OwnerID}
}

// Remaining returns the unpaid portion of the obligation.
func (p Payout) Remaining() int64 {
	remaining := p.Amount - p.Paid
	if remaining < 0 {
		return 0
	}
	return remaining
}
