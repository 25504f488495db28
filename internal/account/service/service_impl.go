package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	"github.com/smallbiznis/cashflow/internal/clock"
	"github.com/smallbiznis/cashflow/internal/db"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/observability/metrics"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Identity *identity.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	identity *identity.Service
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("account.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		identity: p.Identity,
	}
}

func (s *Service) Transfer(ctx context.Context, req accountdomain.TransferRequest) (*accountdomain.TransferResult, error) {
	allowed, err := s.identity.CanActFor(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, identity.ErrNotAuthorized
	}
	return s.SystemTransfer(ctx, req)
}

func (s *Service) SystemTransfer(ctx context.Context, req accountdomain.TransferRequest) (*accountdomain.TransferResult, error) {
	var result *accountdomain.TransferResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.TransferTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransferTx applies the two-sided transfer inside tx. Retrying with the
// same reference returns the existing entry pair instead of posting again.
func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, req accountdomain.TransferRequest) (*accountdomain.TransferResult, error) {
	if err := validateTransfer(req); err != nil {
		return nil, err
	}

	if existing, err := s.findPair(ctx, tx, req.Reference); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	from, to, err := s.lockPair(ctx, tx, req.From, req.To)
	if err != nil {
		return nil, err
	}

	if from.Available < req.Amount {
		return nil, accountdomain.ErrInsufficientFunds
	}

	now := s.clock.Now()
	if err := s.applyDelta(ctx, tx, from.ID, -req.Amount, now); err != nil {
		return nil, err
	}
	if err := s.applyDelta(ctx, tx, to.ID, req.Amount, now); err != nil {
		return nil, err
	}

	meta := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		meta[key] = value
	}

	debit := accountdomain.LedgerEntry{
		ID:             s.genID.Generate(),
		AccountID:      from.ID,
		Amount:         -req.Amount,
		Direction:      accountdomain.LedgerEntryDirectionDebit,
		Kind:           req.Kind,
		Reference:      req.Reference,
		CounterpartyID: &to.ID,
		Metadata:       meta,
		CreatedAt:      now,
		CompletedAt:    &now,
	}
	credit := accountdomain.LedgerEntry{
		ID:             s.genID.Generate(),
		AccountID:      to.ID,
		Amount:         req.Amount,
		Direction:      accountdomain.LedgerEntryDirectionCredit,
		Kind:           req.Kind,
		Reference:      req.Reference,
		CounterpartyID: &from.ID,
		Metadata:       meta,
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	if err := tx.WithContext(ctx).Create(&debit).Error; err != nil {
		if pair, findErr := s.recoverPair(ctx, tx, req.Reference, err); findErr == nil && pair != nil {
			return pair, nil
		}
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&credit).Error; err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues(req.Kind).Inc()
	return &accountdomain.TransferResult{Debit: debit, Credit: credit}, nil
}

func (s *Service) EnsureAccount(ctx context.Context, ref subject.Ref) (*accountdomain.Account, error) {
	var account *accountdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.ensureAccountTx(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, ref subject.Ref) (*accountdomain.Account, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var account accountdomain.Account
	err := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ref.Type, ref.ID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, accountdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) ListEntries(ctx context.Context, ref subject.Ref, limit int) ([]accountdomain.LedgerEntry, error) {
	account, err := s.GetAccount(ctx, ref)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []accountdomain.LedgerEntry
	err = s.db.WithContext(ctx).
		Where("account_id = ?", account.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func validateTransfer(req accountdomain.TransferRequest) error {
	if req.Amount <= 0 {
		return accountdomain.ErrInvalidAmount
	}
	if req.Reference == "" {
		return accountdomain.ErrInvalidReference
	}
	if err := req.From.Validate(); err != nil {
		return err
	}
	if err := req.To.Validate(); err != nil {
		return err
	}
	if req.From == req.To {
		return accountdomain.ErrSelfTransfer
	}
	return nil
}

// findPair returns the existing entry pair for a reference, or nil.
func (s *Service) findPair(ctx context.Context, tx *gorm.DB, reference string) (*accountdomain.TransferResult, error) {
	var entries []accountdomain.LedgerEntry
	if err := tx.WithContext(ctx).
		Where("reference = ?", reference).
		Order("amount ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	result := &accountdomain.TransferResult{Existing: true}
	for _, entry := range entries {
		if entry.Direction == accountdomain.LedgerEntryDirectionDebit {
			result.Debit = entry
		} else {
			result.Credit = entry
		}
	}
	return result, nil
}

// recoverPair handles the race where two calls with one reference pass
// the pre-check together: the loser's insert hits the unique index and
// the committed pair is returned instead.
func (s *Service) recoverPair(ctx context.Context, tx *gorm.DB, reference string, cause error) (*accountdomain.TransferResult, error) {
	if !errors.Is(cause, gorm.ErrDuplicatedKey) {
		return nil, cause
	}
	return s.findPair(ctx, tx, reference)
}

func (s *Service) ensureAccountTx(ctx context.Context, tx *gorm.DB, ref subject.Ref) (*accountdomain.Account, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	fresh := accountdomain.Account{
		ID:        s.genID.Generate(),
		OwnerType: ref.Type,
		OwnerID:   ref.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error; err != nil {
		return nil, err
	}

	var account accountdomain.Account
	if err := tx.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ref.Type, ref.ID).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// lockPair ensures both accounts exist and locks them in id order so
// concurrent transfers between the same accounts cannot deadlock.
func (s *Service) lockPair(ctx context.Context, tx *gorm.DB, fromRef, toRef subject.Ref) (*accountdomain.Account, *accountdomain.Account, error) {
	from, err := s.ensureAccountTx(ctx, tx, fromRef)
	if err != nil {
		return nil, nil, err
	}
	to, err := s.ensureAccountTx(ctx, tx, toRef)
	if err != nil {
		return nil, nil, err
	}

	first, second := from, to
	if second.ID < first.ID {
		first, second = second, first
	}
	if first, err = s.lockAccountTx(ctx, tx, first.ID); err != nil {
		return nil, nil, err
	}
	if second, err = s.lockAccountTx(ctx, tx, second.ID); err != nil {
		return nil, nil, err
	}

	if first.OwnerType == fromRef.Type && first.OwnerID == fromRef.ID {
		return first, second, nil
	}
	return second, first, nil
}

func (s *Service) lockAccountTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, accountdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, id snowflake.ID, delta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance + ?, available = available + ?, updated_at = ?
		 WHERE id = ?`,
		delta,
		delta,
		now,
		id,
	).Error
}
