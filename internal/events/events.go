package events

// Engine event types written to the outbox for downstream consumers
// (notifications, reporting). The engine itself never reads them back.
const (
	TypeDealFunded     = "deal.funded"
	TypeEventProcessed = "income_event.processed"
	TypeEventFailed    = "income_event.failed"
	TypePayoutSettled  = "payout.settled"
)
