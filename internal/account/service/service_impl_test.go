package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	"github.com/smallbiznis/cashflow/internal/clock"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/subject"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestTransferMovesFunds(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 1000)

	result, err := svc.Transfer(ctx, accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    400,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-move",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.Existing {
		t.Fatal("fresh transfer reported as existing")
	}
	if result.Debit.Amount != -400 || result.Credit.Amount != 400 {
		t.Fatalf("entry amounts = %d/%d, want -400/400", result.Debit.Amount, result.Credit.Amount)
	}

	assertBalance(t, svc, from, 600)
	assertBalance(t, svc, to, 400)
}

func TestTransferConservesTotal(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeOrg, ID: 30}
	creditAccount(t, db, svc, from, 5000)

	for i := 0; i < 5; i++ {
		_, err := svc.Transfer(ctx, accountdomain.TransferRequest{
			From:      from,
			To:        to,
			Amount:    300,
			Kind:      accountdomain.KindTransfer,
			Reference: fmt.Sprintf("ref-conserve-%d", i),
		})
		if err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	var total int64
	if err := db.Model(&accountdomain.Account{}).Select("COALESCE(SUM(balance), 0)").Scan(&total).Error; err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if total != 5000 {
		t.Fatalf("total balance = %d, want 5000", total)
	}
}

func TestTransferIdempotentReference(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 1000)

	req := accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    250,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-repeat",
	}
	first, err := svc.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := svc.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if !second.Existing {
		t.Fatal("repeat transfer did not report existing")
	}
	if second.Debit.ID != first.Debit.ID || second.Credit.ID != first.Credit.ID {
		t.Fatal("repeat transfer returned a different entry pair")
	}

	assertBalance(t, svc, from, 750)
	assertBalance(t, svc, to, 250)
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 100)

	_, err := svc.Transfer(ctx, accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    101,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-overdraw",
	})
	if !errors.Is(err, accountdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	assertBalance(t, svc, from, 100)
}

func TestTransferRejectsSelf(t *testing.T) {
	svc, _ := newTestService(t)

	ref := subject.Ref{Type: subject.TypeUser, ID: 10}
	_, err := svc.Transfer(systemCtx(), accountdomain.TransferRequest{
		From:      ref,
		To:        ref,
		Amount:    10,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-self",
	})
	if !errors.Is(err, accountdomain.ErrSelfTransfer) {
		t.Fatalf("expected self transfer error, got %v", err)
	}
}

func TestTransferRequiresSourceAuthorization(t *testing.T) {
	svc, db := newTestService(t)

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 1000)

	// Caller 20 may not debit user 10.
	ctx := identity.WithCaller(context.Background(), identity.Caller{UserID: 20})
	_, err := svc.Transfer(ctx, accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    100,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-unauthorized",
	})
	if !errors.Is(err, identity.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	// The owner itself may.
	ctx = identity.WithCaller(context.Background(), identity.Caller{UserID: 10})
	if _, err := svc.Transfer(ctx, accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    100,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-self-authorized",
	}); err != nil {
		t.Fatalf("owner transfer: %v", err)
	}
}

func TestAccountInvariantHolds(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 900)

	if _, err := svc.Transfer(ctx, accountdomain.TransferRequest{
		From:      from,
		To:        to,
		Amount:    300,
		Kind:      accountdomain.KindTransfer,
		Reference: "ref-invariant",
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	var accounts []accountdomain.Account
	if err := db.Find(&accounts).Error; err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	for _, account := range accounts {
		if account.Balance != account.Available+account.Reserved {
			t.Fatalf("account %d: balance %d != available %d + reserved %d",
				account.ID, account.Balance, account.Available, account.Reserved)
		}
		if account.Balance < 0 || account.Available < 0 || account.Reserved < 0 {
			t.Fatalf("account %d went negative", account.ID)
		}
	}
}

func TestListEntriesNewestFirst(t *testing.T) {
	svc, db := newTestService(t)
	ctx := systemCtx()

	from := subject.Ref{Type: subject.TypeUser, ID: 10}
	to := subject.Ref{Type: subject.TypeUser, ID: 20}
	creditAccount(t, db, svc, from, 1000)

	for i := 0; i < 3; i++ {
		if _, err := svc.Transfer(ctx, accountdomain.TransferRequest{
			From:      from,
			To:        to,
			Amount:    int64(10 + i),
			Kind:      accountdomain.KindTransfer,
			Reference: fmt.Sprintf("ref-list-%d", i),
		}); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	entries, err := svc.ListEntries(ctx, from, 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID > entries[i-1].ID {
			t.Fatal("entries not ordered newest first")
		}
	}
}

func newTestService(t *testing.T) (accountdomain.Service, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := &Service{
		db:       db,
		log:      zap.NewNop(),
		genID:    node,
		clock:    clock.SystemClock{},
		identity: identity.NewService(identity.Params{DB: db, Log: zap.NewNop()}),
	}
	return svc, db
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&identity.OrgMember{},
		&accountdomain.Account{},
		&accountdomain.LedgerEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func systemCtx() context.Context {
	return identity.WithCaller(context.Background(), identity.Caller{System: true})
}

// creditAccount seeds funds directly; every later movement goes through
// the transfer primitive.
func creditAccount(t *testing.T, db *gorm.DB, svc accountdomain.Service, ref subject.Ref, amount int64) {
	t.Helper()
	account, err := svc.EnsureAccount(context.Background(), ref)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	err = db.Exec(
		`UPDATE accounts SET balance = balance + ?, available = available + ? WHERE id = ?`,
		amount, amount, account.ID,
	).Error
	if err != nil {
		t.Fatalf("credit account: %v", err)
	}
}

func assertBalance(t *testing.T, svc accountdomain.Service, ref subject.Ref, want int64) {
	t.Helper()
	account, err := svc.GetAccount(context.Background(), ref)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != want {
		t.Fatalf("balance = %d, want %d", account.Balance, want)
	}
	if account.Available != want {
		t.Fatalf("available = %d, want %d", account.Available, want)
	}
}
