package domain

import "time"

// ExecStatus tracks the lifecycle of an execution record. CONFIRMED, FAILED
// and EXPIRED are terminal: no transition out of them is permitted.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecSubmitted ExecStatus = "submitted"
	ExecConfirmed ExecStatus = "confirmed"
	ExecFailed    ExecStatus = "failed"
	ExecExpired   ExecStatus = "expired"

	// ExecSkipped never appears on a record; it is an outcome-only status for
	// posts whose verdict is NONE.
	ExecSkipped ExecStatus = "skipped"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecConfirmed, ExecFailed, ExecExpired:
		return true
	default:
		return false
	}
}

// VenueAction is the concrete action the coordinator resolved for a signal.
type VenueAction string

const (
	ActionSpotBuy       VenueAction = "spot_buy"
	ActionSpotSell      VenueAction = "spot_sell"
	ActionPerpOpenLong  VenueAction = "perp_open_long"
	ActionPerpOpenShort VenueAction = "perp_open_short"
	ActionPerpClose     VenueAction = "perp_close"
)

// ExecutionRecord is the idempotency lineage for one post. It is keyed by
// PostID; at most one record per post ever reaches CONFIRMED. The
// IdempotencyToken is minted once when the record is created and reused for
// every venue attempt, so a retried request is recognized as the same
// logical operation.
type ExecutionRecord struct {
	PostID           string      `json:"post_id"`
	Asset            string      `json:"asset,omitempty"`
	VenueKind        VenueKind   `json:"venue_kind,omitempty"`
	Action           VenueAction `json:"action,omitempty"`
	Status           ExecStatus  `json:"status"`
	VenueOrderID     string      `json:"venue_order_id,omitempty"`
	IdempotencyToken string      `json:"idempotency_token"`
	Attempts         int         `json:"attempts"`
	LastError        string      `json:"last_error,omitempty"`
	RequestedAt      time.Time   `json:"requested_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ExecutionOutcome is what the coordinator reports for one handled post, and
// what the notifier forwards downstream.
type ExecutionOutcome struct {
	PostID   string
	Asset    string
	Verdict  Verdict
	Status   ExecStatus
	Position *Position // snapshot after the trade, nil when no trade happened
	Err      string
}
