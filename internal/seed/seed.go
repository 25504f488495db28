package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/identity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Development fixtures. Snowflake IDs below epoch range are reserved
// for seeds so they never collide with generated ones.
const (
	seedOrgID   snowflake.ID = 1
	seedOwnerID snowflake.ID = 2
	seedManager snowflake.ID = 3
)

// EnsureDevFixtures creates a default organization membership so a
// fresh development database has a subject to act for.
func EnsureDevFixtures(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	members := []identity.OrgMember{
		{ID: node.Generate(), OrgID: seedOrgID, UserID: seedOwnerID, Role: identity.RoleOwner},
		{ID: node.Generate(), OrgID: seedOrgID, UserID: seedManager, Role: identity.RoleManager},
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).Error
}
