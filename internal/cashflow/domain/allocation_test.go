package domain

import (
	"testing"

	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
)

func TestPoolFloors(t *testing.T) {
	if got := Pool(10000, 1000); got != 1000 {
		t.Fatalf("pool = %d, want 1000", got)
	}
	if got := Pool(999, 1000); got != 99 {
		t.Fatalf("pool = %d, want 99", got)
	}
	if got := Pool(0, 1000); got != 0 {
		t.Fatalf("pool = %d, want 0", got)
	}
	if got := Pool(10000, 0); got != 0 {
		t.Fatalf("pool = %d, want 0", got)
	}
}

func TestAllocateProRataByInvested(t *testing.T) {
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 10000, Status: dealdomain.ClaimStatusActive},
		{ID: 2, Invested: 30000, Status: dealdomain.ClaimStatusActive},
	}

	shares := Allocate(dealdomain.DealTypeRevenueShare, 1000, claims)
	if len(shares) != 2 {
		t.Fatalf("shares = %d, want 2", len(shares))
	}

	byID := sharesByClaim(shares)
	if byID[2] != 750 {
		t.Fatalf("larger claim due = %d, want 750", byID[2])
	}
	if byID[1] != 250 {
		t.Fatalf("smaller claim due = %d, want 250", byID[1])
	}
}

func TestAllocateRemainderToLargestClaim(t *testing.T) {
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 100, Status: dealdomain.ClaimStatusActive},
		{ID: 2, Invested: 100, Status: dealdomain.ClaimStatusActive},
		{ID: 3, Invested: 100, Status: dealdomain.ClaimStatusActive},
	}

	shares := Allocate(dealdomain.DealTypeRevenueShare, 100, claims)

	var total int64
	for _, share := range shares {
		total += share.Due
	}
	if total != 100 {
		t.Fatalf("allocated = %d, want the full pool of 100", total)
	}

	// Equal stakes tie-break on the lowest id.
	byID := sharesByClaim(shares)
	if byID[1] != 34 {
		t.Fatalf("tie-break claim due = %d, want 34", byID[1])
	}
	if byID[2] != 33 || byID[3] != 33 {
		t.Fatalf("remaining dues = %d/%d, want 33/33", byID[2], byID[3])
	}
}

func TestAllocateAdvanceWeighsByHeadroom(t *testing.T) {
	capA := int64(300)
	capB := int64(1000)
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 1000, Cap: &capA, Accrued: 200, Status: dealdomain.ClaimStatusActive},
		{ID: 2, Invested: 1000, Cap: &capB, Accrued: 100, Status: dealdomain.ClaimStatusActive},
	}

	// Headrooms are 100 and 900.
	shares := Allocate(dealdomain.DealTypeAdvance, 100, claims)
	byID := sharesByClaim(shares)
	if byID[1] != 10 {
		t.Fatalf("small headroom due = %d, want 10", byID[1])
	}
	if byID[2] != 90 {
		t.Fatalf("large headroom due = %d, want 90", byID[2])
	}
}

func TestAllocateClampsToHeadroom(t *testing.T) {
	cap := int64(50)
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 1000, Cap: &cap, Accrued: 0, Status: dealdomain.ClaimStatusActive},
	}

	shares := Allocate(dealdomain.DealTypeAdvance, 500, claims)
	if len(shares) != 1 {
		t.Fatalf("shares = %d, want 1", len(shares))
	}
	if shares[0].Due != 50 {
		t.Fatalf("due = %d, want the 50 headroom", shares[0].Due)
	}
}

func TestAllocateSkipsExhaustedAndInactiveClaims(t *testing.T) {
	cap := int64(100)
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 1000, Cap: &cap, Accrued: 100, Status: dealdomain.ClaimStatusActive},
		{ID: 2, Invested: 1000, Status: dealdomain.ClaimStatusCancelled},
	}

	if shares := Allocate(dealdomain.DealTypeAdvance, 500, claims); len(shares) != 0 {
		t.Fatalf("shares = %d, want none", len(shares))
	}
}

func TestAllocateLargePoolNoOverflow(t *testing.T) {
	claims := []dealdomain.Claim{
		{ID: 1, Invested: 1 << 40, Status: dealdomain.ClaimStatusActive},
		{ID: 2, Invested: 3 << 40, Status: dealdomain.ClaimStatusActive},
	}

	pool := int64(1) << 50
	shares := Allocate(dealdomain.DealTypeRevenueShare, pool, claims)

	var total int64
	for _, share := range shares {
		if share.Due < 0 {
			t.Fatalf("due overflowed: %d", share.Due)
		}
		total += share.Due
	}
	if total != pool {
		t.Fatalf("allocated = %d, want %d", total, pool)
	}
}

func sharesByClaim(shares []Share) map[int64]int64 {
	byID := make(map[int64]int64, len(shares))
	for _, share := range shares {
		byID[int64(share.Claim.ID)] = share.Due
	}
	return byID
}
