// Package sim provides in-memory venue implementations for monitor and
// replay modes: trades settle instantly at a synthetic price and no network
// calls are made.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kolstream/kolbot/internal/domain"
)

// Spot is a simulated swap aggregator. Every swap fills on the first poll at
// the configured price.
type Spot struct {
	mu     sync.Mutex
	orders map[string]domain.SwapStatus
	price  float64
	logger *slog.Logger
}

// NewSpot creates a simulated spot venue filling at price.
func NewSpot(price float64, logger *slog.Logger) *Spot {
	return &Spot{
		orders: make(map[string]domain.SwapStatus),
		price:  price,
		logger: logger.With(slog.String("component", "sim_spot")),
	}
}

var _ domain.SpotVenue = (*Spot)(nil)

func (s *Spot) SubmitSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapSubmission, error) {
	filled := req.Size
	if req.Direction == domain.SwapQuoteToBase {
		// Buy: quote spent converts to base acquired.
		filled = req.Size / s.price
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.orders[id] = domain.SwapStatus{
		State:      domain.SwapFilled,
		FilledSize: filled,
		AvgPrice:   s.price,
	}
	s.mu.Unlock()

	s.logger.Info("simulated swap filled",
		slog.String("asset", req.Asset),
		slog.String("direction", string(req.Direction)),
		slog.Float64("size", req.Size),
		slog.Float64("price", s.price),
	)
	return domain.SwapSubmission{VenueOrderID: id}, nil
}

func (s *Spot) PollStatus(ctx context.Context, venueOrderID string) (domain.SwapStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[venueOrderID]
	if !ok {
		return domain.SwapStatus{}, fmt.Errorf("sim: swap %s: %w", venueOrderID, domain.ErrNotFound)
	}
	return st, nil
}

// Perp is a simulated perp exchange. It tracks resulting exposure per asset
// so closes and flips report the state a real venue would.
type Perp struct {
	mu       sync.Mutex
	orders   map[string]domain.PerpStatus
	exposure map[string]domain.PerpStatus // latest per asset
	price    float64
	logger   *slog.Logger
}

// NewPerp creates a simulated perp venue filling at price.
func NewPerp(price float64, logger *slog.Logger) *Perp {
	return &Perp{
		orders:   make(map[string]domain.PerpStatus),
		exposure: make(map[string]domain.PerpStatus),
		price:    price,
		logger:   logger.With(slog.String("component", "sim_perp")),
	}
}

var _ domain.PerpVenue = (*Perp)(nil)

func (p *Perp) SubmitPositionChange(ctx context.Context, req domain.PerpRequest) (domain.PerpSubmission, error) {
	st := domain.PerpStatus{State: domain.PerpConfirmed, AvgPrice: p.price}
	switch req.Action {
	case domain.PerpOpenLong:
		st.ResultingSide = domain.SideLong
		st.ResultingSize = req.Size / p.price
	case domain.PerpOpenShort:
		st.ResultingSide = domain.SideShort
		st.ResultingSize = req.Size / p.price
	case domain.PerpClosePos:
		st.ResultingSide = domain.SideFlat
		st.ResultingSize = 0
	default:
		return domain.PerpSubmission{}, fmt.Errorf("sim: action %q: %w", req.Action, domain.ErrVenueRejected)
	}

	id := uuid.New().String()
	p.mu.Lock()
	p.orders[id] = st
	p.exposure[req.Asset] = st
	p.mu.Unlock()

	p.logger.Info("simulated position change confirmed",
		slog.String("asset", req.Asset),
		slog.String("action", string(req.Action)),
		slog.Float64("size", req.Size),
		slog.Int("leverage", req.Leverage),
	)
	return domain.PerpSubmission{VenueOrderID: id}, nil
}

func (p *Perp) PollStatus(ctx context.Context, venueOrderID string) (domain.PerpStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[venueOrderID]
	if !ok {
		return domain.PerpStatus{}, fmt.Errorf("sim: order %s: %w", venueOrderID, domain.ErrNotFound)
	}
	return st, nil
}
