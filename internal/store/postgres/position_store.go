package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kolstream/kolbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

// Upsert stores the position, replacing any older version for the same key.
// A stale write (version not newer than the stored row) is a no-op, so
// out-of-order write-throughs cannot roll the row backwards.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (asset, venue_kind, side, size, avg_entry_price, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset, venue_kind) DO UPDATE SET
			side            = EXCLUDED.side,
			size            = EXCLUDED.size,
			avg_entry_price = EXCLUDED.avg_entry_price,
			version         = EXCLUDED.version,
			updated_at      = EXCLUDED.updated_at
		WHERE positions.version < EXCLUDED.version`

	_, err := s.pool.Exec(ctx, query,
		pos.Asset, string(pos.VenueKind), string(pos.Side),
		pos.Size, pos.AvgEntryPrice, pos.Version, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.Asset, pos.VenueKind, err)
	}
	return nil
}

// List returns the latest position for every known key.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset, venue_kind, side, size, avg_entry_price, version, updated_at
		FROM positions
		ORDER BY asset, venue_kind`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var venueKind, side string
		if err := rows.Scan(&p.Asset, &venueKind, &side, &p.Size, &p.AvgEntryPrice, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.VenueKind = domain.VenueKind(venueKind)
		p.Side = domain.PositionSide(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
