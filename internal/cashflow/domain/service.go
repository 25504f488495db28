package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/subject"
)

var (
	ErrEventNotFound     = errors.New("income_event_not_found")
	ErrPayoutNotFound    = errors.New("payout_not_found")
	ErrInvalidEventInput = errors.New("invalid_event_input")
	ErrEventNotFailed    = errors.New("event_not_failed")
)

// RecordIncomeEventRequest registers money received by the subject.
// SourceLedgerEntryID, when set, is the idempotency anchor: a second
// submission for the same (SourceType, entry) returns the first event.
type RecordIncomeEventRequest struct {
	Subject             subject.Ref
	Amount              int64
	SourceType          string
	SourceRef           *string
	SourceLedgerEntryID *snowflake.ID
	OccurredAt          *time.Time
	Metadata            map[string]any
}

// SettleResult reports a payout's progress after a settlement attempt.
type SettleResult struct {
	Status    PayoutStatus
	Paid      int64
	Remaining int64
}

type ListPayoutsRequest struct {
	Subject *subject.Ref
	PayeeID snowflake.ID
	Status  PayoutStatus
	Limit   int
}

// Service is the income event log, waterfall allocator and settlement
// engine.
type Service interface {
	// RecordIncomeEvent ingests an event and immediately runs the
	// allocator for it. Idempotent on (SourceType, SourceLedgerEntryID).
	RecordIncomeEvent(ctx context.Context, req RecordIncomeEventRequest) (snowflake.ID, error)

	// ProcessIncomeEvent runs the waterfall for one event. Allocation
	// failures are recorded on the event, not returned; the boolean
	// reports whether the event is now cleanly processed.
	ProcessIncomeEvent(ctx context.Context, eventID snowflake.ID) (bool, error)

	// SettlePayout transfers as much of the outstanding amount as the
	// subject's available balance covers. Running out of funds is not
	// an error; the payout stays partially paid for a later sweep.
	SettlePayout(ctx context.Context, payoutID snowflake.ID) (*SettleResult, error)

	// SweepPendingPayouts retries settlement for stalled payouts,
	// oldest first, and returns how many made progress.
	SweepPendingPayouts(ctx context.Context, limit int) (int, error)

	GetEvent(ctx context.Context, eventID snowflake.ID) (*IncomeEvent, error)
	GetPayout(ctx context.Context, payoutID snowflake.ID) (*Payout, error)
	ListPayouts(ctx context.Context, req ListPayoutsRequest) ([]Payout, error)

	// ListFailedEvents exposes events whose allocation errored so an
	// operator can inspect and replay them.
	ListFailedEvents(ctx context.Context, limit int) ([]IncomeEvent, error)
	// ReplayEvent clears a failed event's error and reruns allocation.
	ReplayEvent(ctx context.Context, eventID snowflake.ID) (bool, error)
}
