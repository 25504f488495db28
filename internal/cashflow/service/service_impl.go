package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	"github.com/smallbiznis/cashflow/internal/clock"
	"github.com/smallbiznis/cashflow/internal/db"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/events"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/observability/metrics"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errAlreadyProcessed short-circuits allocation when a concurrent
// processor won the event row.
var errAlreadyProcessed = errors.New("already_processed")

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

func NewService(p Params) cashflowdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("cashflow.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		identity:   p.Identity,
		accountSvc: p.AccountSvc,
		outbox:     p.Outbox,
	}
}

func (s *Service) RecordIncomeEvent(ctx context.Context, req cashflowdomain.RecordIncomeEventRequest) (snowflake.ID, error) {
	if err := validateRecordRequest(req); err != nil {
		return 0, err
	}

	if err := s.authorizeRecord(ctx, req); err != nil {
		return 0, err
	}

	// Idempotent ingestion: the same upstream transaction must never
	// produce two events.
	if req.SourceLedgerEntryID != nil {
		existing, err := s.findBySource(ctx, req.SourceType, *req.SourceLedgerEntryID)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	occurred := s.clock.Now()
	if req.OccurredAt != nil {
		occurred = req.OccurredAt.UTC()
	}

	event := cashflowdomain.IncomeEvent{
		ID:                  s.genID.Generate(),
		OwnerType:           req.Subject.Type,
		OwnerID:             req.Subject.ID,
		Amount:              req.Amount,
		SourceType:          strings.TrimSpace(req.SourceType),
		SourceRef:           req.SourceRef,
		SourceLedgerEntryID: req.SourceLedgerEntryID,
		OccurredAt:          occurred,
		CreatedAt:           s.clock.Now(),
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 && req.SourceLedgerEntryID != nil {
		// Lost a race with a concurrent submission of the same source.
		existing, err := s.findBySource(ctx, req.SourceType, *req.SourceLedgerEntryID)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	metrics.IncomeEventsTotal.WithLabelValues(event.SourceType).Inc()

	if _, err := s.ProcessIncomeEvent(ctx, event.ID); err != nil {
		// The event is durable; allocation is retried via replay/sweep.
		s.log.Warn("inline allocation failed",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
	return event.ID, nil
}

func (s *Service) ProcessIncomeEvent(ctx context.Context, eventID snowflake.ID) (bool, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if event.ProcessedAt != nil {
		metrics.EventsProcessedTotal.WithLabelValues(metrics.OutcomeAlreadyDone).Inc()
		return event.ProcessingError == nil, nil
	}

	start := time.Now()
	allocErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.allocateTx(ctx, tx, eventID)
	})
	metrics.AllocationDuration.Observe(time.Since(start).Seconds())

	if errors.Is(allocErr, errAlreadyProcessed) {
		metrics.EventsProcessedTotal.WithLabelValues(metrics.OutcomeAlreadyDone).Inc()
		return true, nil
	}
	if errors.Is(allocErr, cashflowdomain.ErrEventNotFound) {
		return false, allocErr
	}

	// The event is marked processed either way; a failure is recorded
	// on the row for inspection instead of being lost in a rollback.
	if err := s.markProcessed(ctx, eventID, allocErr); err != nil {
		return false, err
	}

	if allocErr != nil {
		metrics.EventsProcessedTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.log.Warn("waterfall allocation failed",
			zap.String("event_id", eventID.String()),
			zap.Error(allocErr),
		)
		_ = s.outbox.Publish(ctx, events.Event{
			Type:      events.TypeEventFailed,
			DedupeKey: fmt.Sprintf("event.failed:%s:%s", eventID, allocErr),
			Payload:   map[string]any{"event_id": eventID.String(), "error": allocErr.Error()},
		})
		return false, nil
	}

	metrics.EventsProcessedTotal.WithLabelValues(metrics.OutcomeProcessed).Inc()
	_ = s.outbox.Publish(ctx, events.Event{
		Type:      events.TypeEventProcessed,
		DedupeKey: "event.processed:" + eventID.String(),
		Payload:   map[string]any{"event_id": eventID.String()},
	})
	return true, nil
}

// allocateTx runs the waterfall for one event: for each active deal on
// the subject, in priority order, carve out the pool and distribute it
// across open claims. Payout rows are the idempotency backstop, so a
// replayed event only fills in what is missing.
func (s *Service) allocateTx(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) error {
	event, err := s.lockEventTx(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if event.ProcessedAt != nil {
		return errAlreadyProcessed
	}

	var deals []dealdomain.Deal
	query := tx.WithContext(ctx).Where("status = ?", dealdomain.DealStatusActive)
	switch event.OwnerType {
	case subject.TypeUser:
		query = query.Where("user_id = ?", event.OwnerID)
	case subject.TypeOrg:
		query = query.Where("org_id = ?", event.OwnerID)
	}
	if err := query.Order("priority ASC, created_at ASC, id ASC").Find(&deals).Error; err != nil {
		return err
	}

	for _, deal := range deals {
		if !deal.InWindow(event.OccurredAt) {
			continue
		}
		pool := cashflowdomain.Pool(event.Amount, deal.RateBps)
		if pool <= 0 {
			continue
		}

		var claims []dealdomain.Claim
		if err := db.LockForUpdate(tx.WithContext(ctx)).
			Where("deal_id = ? AND status = ?", deal.ID, dealdomain.ClaimStatusActive).
			Find(&claims).Error; err != nil {
			return err
		}

		for _, share := range cashflowdomain.Allocate(deal.Type, pool, claims) {
			if err := s.createPayoutTx(ctx, tx, event, deal, share); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) createPayoutTx(ctx context.Context, tx *gorm.DB, event *cashflowdomain.IncomeEvent, deal dealdomain.Deal, share cashflowdomain.Share) error {
	now := s.clock.Now()
	payout := cashflowdomain.Payout{
		ID:        s.genID.Generate(),
		EventID:   event.ID,
		ClaimID:   share.Claim.ID,
		DealID:    deal.ID,
		OwnerType: event.OwnerType,
		OwnerID:   event.OwnerID,
		PayeeID:   share.Claim.InvestorID,
		Amount:    share.Due,
		Status:    cashflowdomain.PayoutStatusPending,
		Reference: uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&payout)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already allocated by a previous run of this event.
		return nil
	}

	newAccrued := share.Claim.Accrued + share.Due
	updates := map[string]any{
		"accrued":    newAccrued,
		"updated_at": now,
	}
	if share.Claim.Cap != nil && newAccrued >= *share.Claim.Cap {
		updates["status"] = dealdomain.ClaimStatusCompleted
	}
	if err := tx.WithContext(ctx).Model(&dealdomain.Claim{}).
		Where("id = ?", share.Claim.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	_, _, err := s.settleTx(ctx, tx, payout.ID)
	return err
}

func (s *Service) SettlePayout(ctx context.Context, payoutID snowflake.ID) (*cashflowdomain.SettleResult, error) {
	var result *cashflowdomain.SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, _, err = s.settleTx(ctx, tx, payoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settleTx pays out min(remaining, available) from the subject to the
// payee. Underfunding is steady state, not an error: the payout stays
// pending or partially paid and a later sweep drains it. The returned
// delta is the amount moved by this attempt.
func (s *Service) settleTx(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) (*cashflowdomain.SettleResult, int64, error) {
	payout, err := s.lockPayoutTx(ctx, tx, payoutID)
	if err != nil {
		return nil, 0, err
	}
	if payout.Status == cashflowdomain.PayoutStatusCancelled {
		return settleResult(payout), 0, nil
	}

	now := s.clock.Now()
	remaining := payout.Remaining()
	if remaining == 0 {
		if payout.Status != cashflowdomain.PayoutStatusPaid {
			if err := s.updatePayoutTx(ctx, tx, payout.ID, payout.Paid, cashflowdomain.PayoutStatusPaid, now); err != nil {
				return nil, 0, err
			}
			payout.Status = cashflowdomain.PayoutStatusPaid
		}
		return settleResult(payout), 0, nil
	}

	available, err := s.lockedAvailableTx(ctx, tx, payout.Subject())
	if err != nil {
		return nil, 0, err
	}
	pay := remaining
	if available < pay {
		pay = available
	}
	if pay <= 0 {
		metrics.PayoutSettlementsTotal.WithLabelValues(metrics.OutcomeNoFunds).Inc()
		return settleResult(payout), 0, nil
	}

	// The payout reference plus the paid offset makes each settlement
	// step idempotent: a retry of the same step reuses the same
	// transfer reference and no-ops inside the primitive.
	stepRef := fmt.Sprintf("%s:%d", payout.Reference, payout.Paid)
	if _, err := s.accountSvc.TransferTx(ctx, tx, accountdomain.TransferRequest{
		From:      payout.Subject(),
		To:        subject.Ref{Type: subject.TypeUser, ID: payout.PayeeID},
		Amount:    pay,
		Kind:      accountdomain.KindCashflowPayout,
		Reference: stepRef,
		Metadata: map[string]any{
			"payout_id": payout.ID.String(),
			"event_id":  payout.EventID.String(),
		},
	}); err != nil {
		return nil, 0, err
	}

	newPaid := payout.Paid + pay
	status := cashflowdomain.PayoutStatusPartiallyPaid
	outcome := metrics.OutcomePartiallyPaid
	if newPaid >= payout.Amount {
		status = cashflowdomain.PayoutStatusPaid
		outcome = metrics.OutcomePaid
	}
	if err := s.updatePayoutTx(ctx, tx, payout.ID, newPaid, status, now); err != nil {
		return nil, 0, err
	}

	// Mirror the increment into the claim's paid-to-date.
	if err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ?", payout.ClaimID).
		First(&dealdomain.Claim{}).Error; err != nil {
		return nil, 0, err
	}
	if err := tx.WithContext(ctx).Exec(
		`UPDATE claims SET paid = paid + ?, updated_at = ? WHERE id = ?`,
		pay,
		now,
		payout.ClaimID,
	).Error; err != nil {
		return nil, 0, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:      events.TypePayoutSettled,
		DedupeKey: "payout.settled:" + stepRef,
		Payload: map[string]any{
			"payout_id": payout.ID.String(),
			"payee_id":  payout.PayeeID.String(),
			"amount":    pay,
			"status":    string(status),
		},
	}); err != nil {
		return nil, 0, err
	}

	metrics.PayoutSettlementsTotal.WithLabelValues(outcome).Inc()
	payout.Paid = newPaid
	payout.Status = status
	return settleResult(payout), pay, nil
}

func (s *Service) SweepPendingPayouts(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&cashflowdomain.Payout{}).
		Where("status IN ?", []cashflowdomain.PayoutStatus{
			cashflowdomain.PayoutStatusPending,
			cashflowdomain.PayoutStatusPartiallyPaid,
		}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	metrics.SweepBatchSize.Observe(float64(len(ids)))

	progressed := 0
	for _, id := range ids {
		var delta int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			_, delta, err = s.settleTx(ctx, tx, id)
			return err
		})
		if err != nil {
			s.log.Warn("sweep settlement failed",
				zap.String("payout_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		if delta > 0 {
			progressed++
		}
	}
	return progressed, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID snowflake.ID) (*cashflowdomain.IncomeEvent, error) {
	var event cashflowdomain.IncomeEvent
	err := s.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cashflowdomain.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Service) GetPayout(ctx context.Context, payoutID snowflake.ID) (*cashflowdomain.Payout, error) {
	var payout cashflowdomain.Payout
	err := s.db.WithContext(ctx).Where("id = ?", payoutID).First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cashflowdomain.ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (s *Service) ListPayouts(ctx context.Context, req cashflowdomain.ListPayoutsRequest) ([]cashflowdomain.Payout, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&cashflowdomain.Payout{})
	if req.Subject != nil {
		query = query.Where("owner_type = ? AND owner_id = ?", req.Subject.Type, req.Subject.ID)
	}
	if req.PayeeID != 0 {
		query = query.Where("payee_id = ?", req.PayeeID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var payouts []cashflowdomain.Payout
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (s *Service) ListFailedEvents(ctx context.Context, limit int) ([]cashflowdomain.IncomeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var failed []cashflowdomain.IncomeEvent
	err := s.db.WithContext(ctx).
		Where("processing_error IS NOT NULL").
		Order("occurred_at ASC, id ASC").
		Limit(limit).
		Find(&failed).Error
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func (s *Service) ReplayEvent(ctx context.Context, eventID snowflake.ID) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.lockEventTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event.ProcessingError == nil {
			return cashflowdomain.ErrEventNotFailed
		}
		return tx.WithContext(ctx).Model(&cashflowdomain.IncomeEvent{}).
			Where("id = ?", eventID).
			Updates(map[string]any{
				"processed_at":     nil,
				"processing_error": nil,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return s.ProcessIncomeEvent(ctx, eventID)
}

func (s *Service) authorizeRecord(ctx context.Context, req cashflowdomain.RecordIncomeEventRequest) error {
	allowed, err := s.identity.CanActFor(ctx, req.Subject)
	if err != nil && !errors.Is(err, identity.ErrNoCaller) {
		return err
	}
	if allowed {
		return nil
	}
	// A third party may record only when the referenced ledger entry
	// proves it is the direct payer of an inbound transaction naming
	// the subject as recipient.
	if req.SourceLedgerEntryID != nil {
		payer, err := s.isDirectPayer(ctx, req.Subject, *req.SourceLedgerEntryID)
		if err != nil {
			return err
		}
		if payer {
			return nil
		}
	}
	return identity.ErrNotAuthorized
}

func (s *Service) isDirectPayer(ctx context.Context, ref subject.Ref, entryID snowflake.ID) (bool, error) {
	caller, ok := identity.CallerFromContext(ctx)
	if !ok || caller.UserID == 0 {
		return false, nil
	}

	var entry accountdomain.LedgerEntry
	err := s.db.WithContext(ctx).Where("id = ?", entryID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if entry.Direction != accountdomain.LedgerEntryDirectionCredit || entry.CounterpartyID == nil {
		return false, nil
	}

	recipient, err := s.accountOwner(ctx, entry.AccountID)
	if err != nil || recipient == nil {
		return false, err
	}
	if *recipient != ref {
		return false, nil
	}

	payer, err := s.accountOwner(ctx, *entry.CounterpartyID)
	if err != nil || payer == nil {
		return false, err
	}
	return payer.Type == subject.TypeUser && payer.ID == caller.UserID, nil
}

func (s *Service) accountOwner(ctx context.Context, accountID snowflake.ID) (*subject.Ref, error) {
	var account accountdomain.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	owner := account.Owner()
	return &owner, nil
}

func (s *Service) findBySource(ctx context.Context, sourceType string, entryID snowflake.ID) (*cashflowdomain.IncomeEvent, error) {
	var event cashflowdomain.IncomeEvent
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_ledger_entry_id = ?", strings.TrimSpace(sourceType), entryID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Service) lockEventTx(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) (*cashflowdomain.IncomeEvent, error) {
	var event cashflowdomain.IncomeEvent
	err := db.LockForUpdate(tx.WithContext(ctx)).Where("id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cashflowdomain.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Service) lockPayoutTx(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) (*cashflowdomain.Payout, error) {
	var payout cashflowdomain.Payout
	err := db.LockForUpdate(tx.WithContext(ctx)).Where("id = ?", payoutID).First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cashflowdomain.ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// lockedAvailableTx reads the subject's available balance under an
// exclusive row lock. A missing account simply has nothing available.
func (s *Service) lockedAvailableTx(ctx context.Context, tx *gorm.DB, ref subject.Ref) (int64, error) {
	var account accountdomain.Account
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("owner_type = ? AND owner_id = ?", ref.Type, ref.ID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Available, nil
}

func (s *Service) updatePayoutTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paid int64, status cashflowdomain.PayoutStatus, now time.Time) error {
	return tx.WithContext(ctx).Model(&cashflowdomain.Payout{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"paid":       paid,
			"status":     status,
			"updated_at": now,
		}).Error
}

func (s *Service) markProcessed(ctx context.Context, eventID snowflake.ID, allocErr error) error {
	updates := map[string]any{
		"processed_at": s.clock.Now(),
	}
	if allocErr != nil {
		updates["processing_error"] = allocErr.Error()
	} else {
		updates["processing_error"] = nil
	}
	return s.db.WithContext(ctx).Model(&cashflowdomain.IncomeEvent{}).
		Where("id = ? AND processed_at IS NULL", eventID).
		Updates(updates).Error
}

func settleResult(payout *cashflowdomain.Payout) *cashflowdomain.SettleResult {
	return &cashflowdomain.SettleResult{
		Status:    payout.Status,
		Paid:      payout.Paid,
		Remaining: payout.Remaining(),
	}
}

func validateRecordRequest(req cashflowdomain.RecordIncomeEventRequest) error {
	if err := req.Subject.Validate(); err != nil {
		return err
	}
	if req.Amount <= 0 {
		return cashflowdomain.ErrInvalidEventInput
	}
	if strings.TrimSpace(req.SourceType) == "" {
		return cashflowdomain.ErrInvalidEventInput
	}
	return nil
}
