package migration

import (
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/events"
	"github.com/smallbiznis/cashflow/internal/identity"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Migrate creates or updates the engine schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&identity.OrgMember{},
		&accountdomain.Account{},
		&accountdomain.LedgerEntry{},
		&dealdomain.Deal{},
		&dealdomain.Claim{},
		&dealdomain.FundingRecord{},
		&cashflowdomain.IncomeEvent{},
		&cashflowdomain.Payout{},
		&events.OutboxRow{},
	)
}

var Module = fx.Module("migration",
	fx.Invoke(Migrate),
)
