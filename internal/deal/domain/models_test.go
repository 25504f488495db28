package domain

import (
	"testing"
	"time"
)

func TestCapForFloors(t *testing.T) {
	multiple := int32(13000)
	cap := CapFor(1000, &multiple)
	if cap == nil || *cap != 1300 {
		t.Fatalf("cap = %v, want 1300", cap)
	}

	multiple = int32(12500)
	cap = CapFor(999, &multiple)
	if cap == nil || *cap != 1248 {
		t.Fatalf("cap = %v, want 1248", cap)
	}

	if CapFor(1000, nil) != nil {
		t.Fatal("uncapped claim must have nil cap")
	}
}

func TestHeadroom(t *testing.T) {
	cap := int64(1300)
	claim := Claim{Cap: &cap, Accrued: 1000}
	if got := claim.Headroom(); got != 300 {
		t.Fatalf("headroom = %d, want 300", got)
	}

	claim.Accrued = 1400
	if got := claim.Headroom(); got != 0 {
		t.Fatalf("over-accrued headroom = %d, want 0", got)
	}

	claim.Cap = nil
	if got := claim.Headroom(); got != -1 {
		t.Fatalf("uncapped headroom = %d, want -1", got)
	}
}

func TestInWindow(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := created.AddDate(0, 6, 0)
	deal := Deal{CreatedAt: created, TermEnd: &end}

	if deal.InWindow(created.Add(-time.Hour)) {
		t.Fatal("before creation must be outside the window")
	}
	if !deal.InWindow(created.AddDate(0, 3, 0)) {
		t.Fatal("mid-term must be inside the window")
	}
	if deal.InWindow(end.Add(time.Hour)) {
		t.Fatal("past term end must be outside the window")
	}

	deal.TermEnd = nil
	if !deal.InWindow(created.AddDate(10, 0, 0)) {
		t.Fatal("open-ended deal must stay in window")
	}
}
