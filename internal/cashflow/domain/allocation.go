package domain

import (
	"math/bits"
	"sort"

	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
)

// Share is one claim's slice of an event's payout pool.
type Share struct {
	Claim dealdomain.Claim
	Due   int64
}

// Pool computes the slice of an income event routed to one deal:
// floor(amount x rateBps / 10000).
func Pool(amount int64, rateBps int32) int64 {
	if amount <= 0 || rateBps <= 0 {
		return 0
	}
	return mulDiv(amount, int64(rateBps), 10000)
}

// Allocate distributes pool pro-rata across open claims.
//
// Weights: remaining cap headroom for advances, invested principal for
// revenue shares. Claims are walked largest-invested first so the
// rounding remainder lands deterministically on the largest claim,
// clamped to that claim's headroom. For uncapped claims the shares sum
// to the pool exactly.
func Allocate(dealType dealdomain.DealType, pool int64, claims []dealdomain.Claim) []Share {
	if pool <= 0 {
		return nil
	}

	ordered := make([]dealdomain.Claim, 0, len(claims))
	for _, claim := range claims {
		if claim.Status != dealdomain.ClaimStatusActive {
			continue
		}
		ordered = append(ordered, claim)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Invested != ordered[j].Invested {
			return ordered[i].Invested > ordered[j].Invested
		}
		return ordered[i].ID < ordered[j].ID
	})

	var weightTotal int64
	weights := make(map[int]int64, len(ordered))
	for i, claim := range ordered {
		weight := claimWeight(dealType, claim)
		if weight <= 0 {
			continue
		}
		weights[i] = weight
		weightTotal += weight
	}
	if weightTotal <= 0 {
		return nil
	}

	shares := make([]Share, 0, len(weights))
	shareIndex := make(map[int]int, len(weights))
	var allocated int64
	for i, claim := range ordered {
		weight, ok := weights[i]
		if !ok {
			continue
		}
		due := mulDiv(pool, weight, weightTotal)
		due = clampHeadroom(claim, due)
		if due <= 0 {
			continue
		}
		shareIndex[i] = len(shares)
		shares = append(shares, Share{Claim: claim, Due: due})
		allocated += due
	}

	// Rounding remainder goes to the single largest weighted claim,
	// capped by its headroom.
	remainder := pool - allocated
	if remainder > 0 {
		for i := range ordered {
			if _, ok := weights[i]; !ok {
				continue
			}
			if idx, ok := shareIndex[i]; ok {
				extra := clampHeadroom(ordered[i], shares[idx].Due+remainder) - shares[idx].Due
				if extra > 0 {
					shares[idx].Due += extra
				}
			} else {
				extra := clampHeadroom(ordered[i], remainder)
				if extra > 0 {
					shares = append(shares, Share{Claim: ordered[i], Due: extra})
				}
			}
			break
		}
	}

	return shares
}

func claimWeight(dealType dealdomain.DealType, claim dealdomain.Claim) int64 {
	switch dealType {
	case dealdomain.DealTypeAdvance:
		if claim.Cap == nil {
			return 0
		}
		return claim.Headroom()
	case dealdomain.DealTypeRevenueShare:
		return claim.Invested
	default:
		return 0
	}
}

func clampHeadroom(claim dealdomain.Claim, due int64) int64 {
	room := claim.Headroom()
	if room < 0 {
		return due
	}
	if due > room {
		return room
	}
	return due
}

// mulDiv computes floor(a x b / c) with a 128-bit intermediate so large
// pools and weights cannot overflow. All operands are non-negative.
func mulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi == 0 {
		return int64(lo / uint64(c))
	}
	quo, _ := bits.Div64(hi, lo, uint64(c))
	return int64(quo)
}
