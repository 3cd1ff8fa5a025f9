package coordinator

import (
	"fmt"

	"github.com/kolstream/kolbot/internal/domain"
)

// plannedAction is the concrete venue call resolved for a signal. Exactly one
// of Swap and Perp is set, matching the venue kind.
type plannedAction struct {
	Action domain.VenueAction
	Swap   *domain.SwapRequest
	Perp   *domain.PerpRequest
}

// resolveAction maps (signal, current position) to a venue call. A verdict
// with no matching valid position transition (SELL with nothing held, CLOSE
// while flat, BUY into an existing position) resolves to ErrNoPositionToAct
// and no venue call is made.
func (c *Coordinator) resolveAction(sig domain.Signal, pos domain.Position, token string) (plannedAction, error) {
	if sig.Asset == "" || sig.Verdict == domain.VerdictNone {
		return plannedAction{}, fmt.Errorf("coordinator: verdict %q asset %q: %w", sig.Verdict, sig.Asset, domain.ErrInvalidSignal)
	}

	switch sig.VenueKind {
	case domain.VenueSpot:
		return c.resolveSpot(sig, pos, token)
	case domain.VenuePerp:
		return c.resolvePerp(sig, pos, token)
	default:
		return plannedAction{}, fmt.Errorf("coordinator: venue %q: %w", sig.VenueKind, domain.ErrInvalidSignal)
	}
}

func (c *Coordinator) resolveSpot(sig domain.Signal, pos domain.Position, token string) (plannedAction, error) {
	switch sig.Verdict {
	case domain.VerdictBuy:
		if pos.Open() {
			return plannedAction{}, fmt.Errorf("coordinator: buy %s with open spot position: %w", sig.Asset, domain.ErrNoPositionToAct)
		}
		return plannedAction{
			Action: domain.ActionSpotBuy,
			Swap: &domain.SwapRequest{
				Asset:            sig.Asset,
				Direction:        domain.SwapQuoteToBase,
				Size:             c.cfg.SpotOrderSize,
				IdempotencyToken: token,
			},
		}, nil

	case domain.VerdictSell, domain.VerdictClose:
		if !pos.Open() {
			return plannedAction{}, fmt.Errorf("coordinator: sell %s with no holdings: %w", sig.Asset, domain.ErrNoPositionToAct)
		}
		return plannedAction{
			Action: domain.ActionSpotSell,
			Swap: &domain.SwapRequest{
				Asset:            sig.Asset,
				Direction:        domain.SwapBaseToQuote,
				Size:             pos.Size * c.cfg.SpotExitFraction,
				IdempotencyToken: token,
			},
		}, nil

	default:
		return plannedAction{}, fmt.Errorf("coordinator: verdict %q on spot: %w", sig.Verdict, domain.ErrInvalidSignal)
	}
}

func (c *Coordinator) resolvePerp(sig domain.Signal, pos domain.Position, token string) (plannedAction, error) {
	leverage := sig.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if c.cfg.MaxLeverage > 0 && leverage > c.cfg.MaxLeverage {
		leverage = c.cfg.MaxLeverage
	}

	switch sig.Verdict {
	case domain.VerdictBuy:
		// FLAT or SHORT: open (or flip to) long. Already long: nothing to do.
		if pos.Side == domain.SideLong {
			return plannedAction{}, fmt.Errorf("coordinator: buy %s while already long: %w", sig.Asset, domain.ErrNoPositionToAct)
		}
		return plannedAction{
			Action: domain.ActionPerpOpenLong,
			Perp: &domain.PerpRequest{
				Asset:            sig.Asset,
				Action:           domain.PerpOpenLong,
				Size:             c.cfg.PerpNotionalUSD,
				Leverage:         leverage,
				IdempotencyToken: token,
			},
		}, nil

	case domain.VerdictSell:
		if pos.Side == domain.SideShort {
			return plannedAction{}, fmt.Errorf("coordinator: sell %s while already short: %w", sig.Asset, domain.ErrNoPositionToAct)
		}
		return plannedAction{
			Action: domain.ActionPerpOpenShort,
			Perp: &domain.PerpRequest{
				Asset:            sig.Asset,
				Action:           domain.PerpOpenShort,
				Size:             c.cfg.PerpNotionalUSD,
				Leverage:         leverage,
				IdempotencyToken: token,
			},
		}, nil

	case domain.VerdictClose:
		if !pos.Open() {
			return plannedAction{}, fmt.Errorf("coordinator: close %s while flat: %w", sig.Asset, domain.ErrNoPositionToAct)
		}
		return plannedAction{
			Action: domain.ActionPerpClose,
			Perp: &domain.PerpRequest{
				Asset:            sig.Asset,
				Action:           domain.PerpClosePos,
				Size:             pos.Size,
				IdempotencyToken: token,
			},
		}, nil

	default:
		return plannedAction{}, fmt.Errorf("coordinator: verdict %q on perp: %w", sig.Verdict, domain.ErrInvalidSignal)
	}
}

// computeDelta derives the resulting position state from a confirmed venue
// status. Spot fills accumulate against the current position; perp results
// are adopted verbatim from the venue's resulting exposure.
func computeDelta(action domain.VenueAction, pos domain.Position, swap *domain.SwapStatus, perp *domain.PerpStatus) domain.PositionDelta {
	switch action {
	case domain.ActionSpotBuy:
		size := pos.Size + swap.FilledSize
		avg := swap.AvgPrice
		if pos.Size > 0 && size > 0 {
			avg = (pos.Size*pos.AvgEntryPrice + swap.FilledSize*swap.AvgPrice) / size
		}
		return domain.PositionDelta{Side: domain.SideLong, Size: size, AvgEntryPrice: avg}

	case domain.ActionSpotSell:
		size := pos.Size - swap.FilledSize
		if size <= sizeEpsilon {
			return domain.PositionDelta{Side: domain.SideFlat}
		}
		return domain.PositionDelta{Side: domain.SideLong, Size: size, AvgEntryPrice: pos.AvgEntryPrice}

	default: // perp actions
		if perp.ResultingSize <= sizeEpsilon || perp.ResultingSide == domain.SideFlat {
			return domain.PositionDelta{Side: domain.SideFlat}
		}
		return domain.PositionDelta{
			Side:          perp.ResultingSide,
			Size:          perp.ResultingSize,
			AvgEntryPrice: perp.AvgPrice,
		}
	}
}

// sizeEpsilon absorbs venue rounding on full exits.
const sizeEpsilon = 1e-9
