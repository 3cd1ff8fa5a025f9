package domain

import (
	"fmt"
	"time"
)

// VenueKind distinguishes the two downstream venues.
type VenueKind string

const (
	VenueSpot VenueKind = "spot"
	VenuePerp VenueKind = "perp"
)

// PositionSide is the direction of a position. FLAT means no exposure.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
	SideFlat  PositionSide = "flat"
)

// Position is the authoritative record of current exposure for one
// (asset, venue) pair. There is at most one live Position per pair; it is
// mutated only by the ledger after a venue call reaches a terminal state.
//
// Version implements optimistic concurrency: every successful ApplyDelta
// increments it, and callers must present the version they read.
type Position struct {
	Asset         string
	VenueKind     VenueKind
	Side          PositionSide
	Size          float64
	AvgEntryPrice float64
	Version       int64
	UpdatedAt     time.Time
}

// PositionKey identifies a position slot.
type PositionKey struct {
	Asset     string
	VenueKind VenueKind
}

// Key returns the position's identifying key.
func (p Position) Key() PositionKey {
	return PositionKey{Asset: p.Asset, VenueKind: p.VenueKind}
}

// Open reports whether the position has live exposure.
func (p Position) Open() bool {
	return p.Side != SideFlat
}

// Validate checks the position invariant: size is never negative, and the
// side is FLAT exactly when the size is zero.
func (p Position) Validate() error {
	if p.Size < 0 {
		return fmt.Errorf("position %s/%s: negative size %f", p.Asset, p.VenueKind, p.Size)
	}
	if (p.Side == SideFlat) != (p.Size == 0) {
		return fmt.Errorf("position %s/%s: side %s inconsistent with size %f", p.Asset, p.VenueKind, p.Side, p.Size)
	}
	return nil
}

// PositionDelta is the resulting exposure reported by a venue after a
// confirmed fill or close. The ledger replaces the position's state with the
// delta rather than accumulating, because perp venues report the resulting
// side and size directly.
type PositionDelta struct {
	Side          PositionSide
	Size          float64
	AvgEntryPrice float64
}
