package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/cashflow/internal/subject"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidReference  = errors.New("invalid_reference")
	ErrSelfTransfer      = errors.New("self_transfer")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrAccountNotFound   = errors.New("account_not_found")
)

// TransferRequest moves Amount from one owner's account to another's.
// Reference is the caller-supplied idempotency token shared by the two
// resulting ledger entries.
type TransferRequest struct {
	From      subject.Ref
	To        subject.Ref
	Amount    int64
	Kind      string
	Reference string
	Metadata  map[string]any
}

// TransferResult reports the entry pair for a transfer. Existing is set
// when the reference had already been applied and the call was a no-op.
type TransferResult struct {
	Debit    LedgerEntry
	Credit   LedgerEntry
	Existing bool
}

// Service is the account ledger: lazy account creation, balance reads
// and the atomic two-sided transfer primitive.
type Service interface {
	// Transfer is the client-authorized variant: the caller must be
	// allowed to act for the source owner.
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	// SystemTransfer debits without source-owner authorization. Used by
	// funding and settlement only, never exposed to end users.
	SystemTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	// TransferTx runs the primitive inside an existing transaction so
	// multi-step operations stay all-or-nothing.
	TransferTx(ctx context.Context, tx *gorm.DB, req TransferRequest) (*TransferResult, error)

	// EnsureAccount creates the owner's account if absent and returns it.
	EnsureAccount(ctx context.Context, ref subject.Ref) (*Account, error)
	GetAccount(ctx context.Context, ref subject.Ref) (*Account, error)
	ListEntries(ctx context.Context, ref subject.Ref, limit int) ([]LedgerEntry, error)
}
