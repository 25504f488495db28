package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	"github.com/smallbiznis/cashflow/internal/clock"
	"github.com/smallbiznis/cashflow/internal/db"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/events"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Identity   *identity.Service
	AccountSvc accountdomain.Service
	Outbox     *events.Outbox
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	identity   *identity.Service
	accountSvc accountdomain.Service
	outbox     *events.Outbox
}

func NewService(p Params) dealdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("deal.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		identity:   p.Identity,
		accountSvc: p.AccountSvc,
		outbox:     p.Outbox,
	}
}

func (s *Service) CreateDeal(ctx context.Context, req dealdomain.CreateDealRequest) (*dealdomain.Deal, error) {
	if err := validateCreateDeal(req); err != nil {
		return nil, err
	}

	allowed, err := s.identity.CanActFor(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, identity.ErrNotAuthorized
	}

	now := s.clock.Now()
	deal := dealdomain.Deal{
		ID:             s.genID.Generate(),
		Title:          strings.TrimSpace(req.Title),
		Type:           req.Type,
		Status:         dealdomain.DealStatusActive,
		IsPublic:       req.IsPublic,
		RateBps:        req.RateBps,
		CapMultipleBps: req.CapMultipleBps,
		TermEnd:        req.TermEnd,
		Priority:       100,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Priority != nil {
		deal.Priority = *req.Priority
	}
	switch req.Subject.Type {
	case subject.TypeUser:
		id := req.Subject.ID
		deal.UserID = &id
	case subject.TypeOrg:
		id := req.Subject.ID
		deal.OrgID = &id
	}
	if req.Metadata != nil {
		deal.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.db.WithContext(ctx).Create(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

func (s *Service) GetDeal(ctx context.Context, id snowflake.ID) (*dealdomain.Deal, error) {
	var deal dealdomain.Deal
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dealdomain.ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

func (s *Service) ListDeals(ctx context.Context, req dealdomain.ListDealsRequest) ([]dealdomain.Deal, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&dealdomain.Deal{})
	if req.Subject != nil {
		switch req.Subject.Type {
		case subject.TypeUser:
			query = query.Where("user_id = ?", req.Subject.ID)
		case subject.TypeOrg:
			query = query.Where("org_id = ?", req.Subject.ID)
		}
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.PublicOnly {
		query = query.Where("is_public = ?", true)
	}

	var deals []dealdomain.Deal
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// dealTransitions lists the allowed status moves.
var dealTransitions = map[dealdomain.DealStatus][]dealdomain.DealStatus{
	dealdomain.DealStatusDraft:  {dealdomain.DealStatusActive, dealdomain.DealStatusCancelled},
	dealdomain.DealStatusActive: {dealdomain.DealStatusPaused, dealdomain.DealStatusCompleted, dealdomain.DealStatusCancelled},
	dealdomain.DealStatusPaused: {dealdomain.DealStatusActive, dealdomain.DealStatusCompleted, dealdomain.DealStatusCancelled},
}

func (s *Service) UpdateDealStatus(ctx context.Context, id snowflake.ID, status dealdomain.DealStatus) (*dealdomain.Deal, error) {
	var deal dealdomain.Deal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockDealTx(ctx, tx, id)
		if err != nil {
			return err
		}

		allowed, err := s.identity.CanActFor(ctx, locked.Subject())
		if err != nil {
			return err
		}
		if !allowed {
			return identity.ErrNotAuthorized
		}

		if !transitionAllowed(locked.Status, status) {
			return dealdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Model(&dealdomain.Deal{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": now}).Error; err != nil {
			return err
		}

		// A finished deal closes its open claims with it.
		if status == dealdomain.DealStatusCompleted || status == dealdomain.DealStatusCancelled {
			claimStatus := dealdomain.ClaimStatusCompleted
			if status == dealdomain.DealStatusCancelled {
				claimStatus = dealdomain.ClaimStatusCancelled
			}
			if err := tx.WithContext(ctx).Model(&dealdomain.Claim{}).
				Where("deal_id = ? AND status = ?", id, dealdomain.ClaimStatusActive).
				Updates(map[string]any{"status": claimStatus, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		locked.Status = status
		locked.UpdatedAt = now
		deal = *locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// FundDeal moves principal from the calling investor into the subject's
// account and opens or grows the investor's claim. Retrying with the
// same reference returns the same claim without double-charging.
func (s *Service) FundDeal(ctx context.Context, req dealdomain.FundDealRequest) (snowflake.ID, error) {
	caller, ok := identity.CallerFromContext(ctx)
	if !ok || caller.UserID == 0 {
		return 0, identity.ErrNoCaller
	}
	if req.DealID == 0 || req.Amount <= 0 {
		return 0, dealdomain.ErrInvalidFundingInput
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	var claimID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deal, err := s.lockDealTx(ctx, tx, req.DealID)
		if err != nil {
			return err
		}
		if deal.Status != dealdomain.DealStatusActive {
			return dealdomain.ErrDealNotActive
		}

		// Retry path: the funding record is keyed by reference. A
		// record held by another investor or deal is not a retry.
		var existing dealdomain.FundingRecord
		err = tx.WithContext(ctx).Where("reference = ?", reference).First(&existing).Error
		if err == nil {
			if existing.InvestorID != caller.UserID || existing.DealID != deal.ID {
				return dealdomain.ErrInvalidFundingInput
			}
			claimID = existing.ClaimID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		investor := subject.Ref{Type: subject.TypeUser, ID: caller.UserID}
		if _, err := s.accountSvc.TransferTx(ctx, tx, accountdomain.TransferRequest{
			From:      investor,
			To:        deal.Subject(),
			Amount:    req.Amount,
			Kind:      accountdomain.KindDealFunding,
			Reference: reference,
			Metadata:  map[string]any{"deal_id": deal.ID.String()},
		}); err != nil {
			return err
		}

		claim, err := s.growClaimTx(ctx, tx, deal, caller.UserID, req.Amount)
		if err != nil {
			return err
		}
		claimID = claim.ID

		record := dealdomain.FundingRecord{
			ID:         s.genID.Generate(),
			DealID:     deal.ID,
			ClaimID:    claim.ID,
			InvestorID: caller.UserID,
			Amount:     req.Amount,
			Reference:  reference,
			CreatedAt:  s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.TypeDealFunded,
			DedupeKey: "deal.funded:" + reference,
			Payload: map[string]any{
				"deal_id":     deal.ID.String(),
				"claim_id":    claim.ID.String(),
				"investor_id": caller.UserID.String(),
				"amount":      req.Amount,
			},
		})
	})
	if err != nil {
		return 0, err
	}
	return claimID, nil
}

func (s *Service) ListClaims(ctx context.Context, dealID snowflake.ID) ([]dealdomain.Claim, error) {
	if _, err := s.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	var claims []dealdomain.Claim
	err := s.db.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("invested DESC, id ASC").
		Find(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) lockDealTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*dealdomain.Deal, error) {
	var deal dealdomain.Deal
	err := db.LockForUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dealdomain.ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// growClaimTx upserts the (deal, investor) claim under a row lock:
// invested grows, cap is recomputed from the deal's multiple.
func (s *Service) growClaimTx(ctx context.Context, tx *gorm.DB, deal *dealdomain.Deal, investorID snowflake.ID, amount int64) (*dealdomain.Claim, error) {
	now := s.clock.Now()
	fresh := dealdomain.Claim{
		ID:         s.genID.Generate(),
		DealID:     deal.ID,
		InvestorID: investorID,
		Status:     dealdomain.ClaimStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error; err != nil {
		return nil, err
	}

	var claim dealdomain.Claim
	if err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("deal_id = ? AND investor_id = ?", deal.ID, investorID).
		First(&claim).Error; err != nil {
		return nil, err
	}

	claim.Invested += amount
	claim.Cap = dealdomain.CapFor(claim.Invested, deal.CapMultipleBps)
	claim.UpdatedAt = now
	updates := map[string]any{
		"invested":   claim.Invested,
		"cap":        claim.Cap,
		"updated_at": now,
	}
	// Fresh principal reopens a capped-out claim: the recomputed cap
	// leaves headroom again, so the allocator must see it.
	if claim.Status == dealdomain.ClaimStatusCompleted &&
		(claim.Cap == nil || *claim.Cap > claim.Accrued) {
		claim.Status = dealdomain.ClaimStatusActive
		updates["status"] = claim.Status
	}
	if err := tx.WithContext(ctx).Model(&dealdomain.Claim{}).
		Where("id = ?", claim.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

func transitionAllowed(from, to dealdomain.DealStatus) bool {
	for _, allowed := range dealTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validateCreateDeal(req dealdomain.CreateDealRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return dealdomain.ErrInvalidTitle
	}
	if err := req.Subject.Validate(); err != nil {
		return err
	}
	if req.RateBps <= 0 || req.RateBps > 10000 {
		return dealdomain.ErrInvalidRate
	}
	switch req.Type {
	case dealdomain.DealTypeAdvance:
		if req.CapMultipleBps == nil || *req.CapMultipleBps <= 0 {
			return dealdomain.ErrInvalidCapMultiple
		}
	case dealdomain.DealTypeRevenueShare:
		if req.CapMultipleBps != nil && *req.CapMultipleBps <= 0 {
			return dealdomain.ErrInvalidCapMultiple
		}
	default:
		return dealdomain.ErrInvalidDealType
	}
	return nil
}
