package domain

import "context"

// SwapDirection is the direction of a spot swap relative to the target asset.
type SwapDirection string

const (
	SwapQuoteToBase SwapDirection = "quote_to_base" // buy: quote asset -> target asset
	SwapBaseToQuote SwapDirection = "base_to_quote" // sell: target asset -> quote asset
)

// SwapRequest asks the spot aggregator for a market swap. Size is in quote
// units for quote_to_base and in base units for base_to_quote.
type SwapRequest struct {
	Asset            string
	Direction        SwapDirection
	Size             float64
	IdempotencyToken string
}

// SwapSubmission is the immediate response to a submitted swap.
type SwapSubmission struct {
	VenueOrderID string
}

// SwapState is the venue-reported state of a swap.
type SwapState string

const (
	SwapPending  SwapState = "pending"
	SwapFilled   SwapState = "filled"
	SwapRejected SwapState = "rejected"
)

// SwapStatus is a poll result for a spot swap.
type SwapStatus struct {
	State      SwapState
	FilledSize float64 // base units acquired or sold
	AvgPrice   float64
	Reason     string // set when rejected
}

// SpotVenue is the swap aggregator adapter. Submit is not assumed idempotent
// at the network layer; the idempotency token in the request is what makes
// retries safe.
type SpotVenue interface {
	SubmitSwap(ctx context.Context, req SwapRequest) (SwapSubmission, error)
	PollStatus(ctx context.Context, venueOrderID string) (SwapStatus, error)
}

// PerpAction is the position change requested from the perp venue. Open
// actions flip an opposing position in the same request.
type PerpAction string

const (
	PerpOpenLong  PerpAction = "open_long"
	PerpOpenShort PerpAction = "open_short"
	PerpClosePos  PerpAction = "close"
)

// PerpRequest asks the perp venue for a position change. Size is the USD
// notional for opens and the base size for closes.
type PerpRequest struct {
	Asset            string
	Action           PerpAction
	Size             float64
	Leverage         int
	IdempotencyToken string
}

// PerpSubmission is the immediate response to a submitted position change.
type PerpSubmission struct {
	VenueOrderID string
}

// PerpState is the venue-reported state of a position change.
type PerpState string

const (
	PerpPending   PerpState = "pending"
	PerpConfirmed PerpState = "confirmed"
	PerpRejected  PerpState = "rejected"
)

// PerpStatus is a poll result for a perp position change. On confirmation the
// venue reports the resulting exposure, which the ledger adopts verbatim.
type PerpStatus struct {
	State         PerpState
	ResultingSide PositionSide
	ResultingSize float64
	AvgPrice      float64
	Reason        string // set when rejected
}

// PerpVenue is the perpetual-futures exchange adapter.
type PerpVenue interface {
	SubmitPositionChange(ctx context.Context, req PerpRequest) (PerpSubmission, error)
	PollStatus(ctx context.Context, venueOrderID string) (PerpStatus, error)
}
