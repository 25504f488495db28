package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts committed ledger transfers by kind.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashflow",
		Name:      "transfers_total",
		Help:      "Number of committed ledger transfers.",
	}, []string{"kind"})

	// IncomeEventsTotal counts recorded income events by source type.
	IncomeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashflow",
		Name:      "income_events_total",
		Help:      "Number of recorded income events.",
	}, []string{"source_type"})

	// EventsProcessedTotal counts allocator runs by outcome.
	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashflow",
		Name:      "events_processed_total",
		Help:      "Number of income events run through the waterfall allocator.",
	}, []string{"outcome"})

	// PayoutSettlementsTotal counts settlement attempts by outcome.
	PayoutSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashflow",
		Name:      "payout_settlements_total",
		Help:      "Number of payout settlement attempts.",
	}, []string{"outcome"})

	// SweepBatchSize observes how many payouts each sweep picked up.
	SweepBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cashflow",
		Name:      "sweep_batch_size",
		Help:      "Payouts selected per sweep run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	// AllocationDuration observes waterfall allocation latency per event.
	AllocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cashflow",
		Name:      "allocation_duration_seconds",
		Help:      "Waterfall allocation latency per income event.",
		Buckets:   prometheus.DefBuckets,
	})
)

const (
	OutcomeProcessed     = "processed"
	OutcomeFailed        = "failed"
	OutcomeAlreadyDone   = "already_processed"
	OutcomePaid          = "paid"
	OutcomePartiallyPaid = "partially_paid"
	OutcomeNoFunds       = "no_funds"
)
