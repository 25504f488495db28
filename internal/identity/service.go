package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/cache"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotAuthorized = errors.New("not_authorized")
	ErrNoCaller      = errors.New("missing_caller")
)

const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RoleMember  = "MEMBER"
)

// ManagingRoles are the org roles allowed to act on the org's behalf.
var ManagingRoles = []string{RoleOwner, RoleManager}

// OrgMember mirrors the membership table maintained by the identity
// provider. The engine only reads it.
type OrgMember struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_members_org_user,priority:1"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_members_org_user,priority:2"`
	Role      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgMember) TableName() string { return "organization_members" }

// Service answers the three capability questions the engine needs:
// is the caller the subject, does the caller manage the subject org,
// is the caller the system itself.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	roles *cache.TTLCache[string, string]
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("identity"),
		roles: cache.NewTTLCache[string, string](),
	}
}

const roleCacheTTL = 30 * time.Second

// IsSystem reports whether the context carries a privileged system caller.
func (s *Service) IsSystem(ctx context.Context) bool {
	caller, ok := CallerFromContext(ctx)
	return ok && caller.System
}

// IsSelf reports whether the caller is the subject itself.
func (s *Service) IsSelf(ctx context.Context, ref subject.Ref) bool {
	caller, ok := CallerFromContext(ctx)
	if !ok || caller.System {
		return false
	}
	return ref.Type == subject.TypeUser && ref.ID == caller.UserID
}

// HasOrgRole reports whether the caller holds one of the given roles in
// the organization. Lookups are cached briefly, membership churn is rare
// relative to settlement traffic.
func (s *Service) HasOrgRole(ctx context.Context, orgID snowflake.ID, roles ...string) (bool, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return false, ErrNoCaller
	}
	if caller.System {
		return true, nil
	}

	role, err := s.lookupRole(ctx, orgID, caller.UserID)
	if err != nil {
		return false, err
	}
	for _, want := range roles {
		if role == want {
			return true, nil
		}
	}
	return false, nil
}

// CanActFor reports whether the caller may act on behalf of the subject:
// the subject itself, a managing member of a subject org, or the system.
func (s *Service) CanActFor(ctx context.Context, ref subject.Ref) (bool, error) {
	if s.IsSystem(ctx) || s.IsSelf(ctx, ref) {
		return true, nil
	}
	if ref.Type == subject.TypeOrg {
		return s.HasOrgRole(ctx, ref.ID, ManagingRoles...)
	}
	return false, nil
}

func (s *Service) lookupRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	key := fmt.Sprintf("%d:%d", orgID, userID)
	if role, ok := s.roles.Get(key); ok {
		return role, nil
	}

	var member OrgMember
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.roles.Set(key, "", roleCacheTTL)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	s.roles.Set(key, member.Role, roleCacheTTL)
	return member.Role, nil
}
