package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
	"gorm.io/datatypes"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

const (
	KindTransfer       = "transfer"
	KindDealFunding    = "deal_funding"
	KindCashflowPayout = "cashflow_payout"
)

// Account holds one party's balance. Invariant: Balance = Available +
// Reserved, all three non-negative. Created lazily on first reference
// and never deleted.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OwnerType subject.Type `gorm:"type:text;not null;uniqueIndex:ux_accounts_owner,priority:1"`
	OwnerID   snowflake.ID `gorm:"not null;uniqueIndex:ux_accounts_owner,priority:2"`
	Balance   int64        `gorm:"not null;default:0"`
	Available int64        `gorm:"not null;default:0"`
	Reserved  int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

func (a Account) Owner() subject.Ref {
	return subject.Ref{Type: a.OwnerType, ID: a.OwnerID}
}

// LedgerEntry is one side of a transfer. The two sides share a
// Reference; (reference, direction) is unique so a retried transfer
// cannot post twice. Immutable once written.
type LedgerEntry struct {
	ID             snowflake.ID         `gorm:"primaryKey"`
	AccountID      snowflake.ID         `gorm:"not null;index"`
	Amount         int64                `gorm:"not null"`
	Direction      LedgerEntryDirection `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_ref_dir,priority:2"`
	Kind           string               `gorm:"type:text;not null;index"`
	Reference      string               `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_ref_dir,priority:1"`
	CounterpartyID *snowflake.ID        `gorm:"index"`
	Metadata       datatypes.JSONMap    `gorm:"type:jsonb"`
	CreatedAt      time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt    *time.Time
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
