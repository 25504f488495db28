package identity

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestCanActForSelf(t *testing.T) {
	svc := newTestService(t)
	ctx := WithCaller(context.Background(), Caller{UserID: 10})

	allowed, err := svc.CanActFor(ctx, subject.Ref{Type: subject.TypeUser, ID: 10})
	if err != nil {
		t.Fatalf("can act for: %v", err)
	}
	if !allowed {
		t.Fatal("expected self to be allowed")
	}

	allowed, err = svc.CanActFor(ctx, subject.Ref{Type: subject.TypeUser, ID: 11})
	if err != nil {
		t.Fatalf("can act for: %v", err)
	}
	if allowed {
		t.Fatal("expected other user to be denied")
	}
}

func TestCanActForOrgRequiresManagingRole(t *testing.T) {
	svc := newTestService(t)
	insertMember(t, svc.db, 1, 10, RoleManager)
	insertMember(t, svc.db, 1, 11, RoleMember)

	org := subject.Ref{Type: subject.TypeOrg, ID: 1}

	allowed, err := svc.CanActFor(WithCaller(context.Background(), Caller{UserID: 10}), org)
	if err != nil {
		t.Fatalf("manager check: %v", err)
	}
	if !allowed {
		t.Fatal("expected manager to be allowed")
	}

	allowed, err = svc.CanActFor(WithCaller(context.Background(), Caller{UserID: 11}), org)
	if err != nil {
		t.Fatalf("member check: %v", err)
	}
	if allowed {
		t.Fatal("expected plain member to be denied")
	}

	allowed, err = svc.CanActFor(WithCaller(context.Background(), Caller{UserID: 12}), org)
	if err != nil {
		t.Fatalf("outsider check: %v", err)
	}
	if allowed {
		t.Fatal("expected outsider to be denied")
	}
}

func TestCanActForSystem(t *testing.T) {
	svc := newTestService(t)
	ctx := WithCaller(context.Background(), Caller{System: true})

	allowed, err := svc.CanActFor(ctx, subject.Ref{Type: subject.TypeOrg, ID: 7})
	if err != nil {
		t.Fatalf("can act for: %v", err)
	}
	if !allowed {
		t.Fatal("expected system caller to be allowed")
	}
}

func TestHasOrgRoleWithoutCaller(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.HasOrgRole(context.Background(), 1, ManagingRoles...)
	if err != ErrNoCaller {
		t.Fatalf("expected missing caller, got %v", err)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&OrgMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(Params{DB: db, Log: zap.NewNop()})
}

func insertMember(t *testing.T, db *gorm.DB, orgID, userID snowflake.ID, role string) {
	t.Helper()
	member := OrgMember{
		ID:     snowflake.ID(orgID)<<32 | userID,
		OrgID:  orgID,
		UserID: userID,
		Role:   role,
	}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("insert member: %v", err)
	}
}
