package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kolstream/kolbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

const executionSelectCols = `post_id, asset, venue_kind, action, status,
	venue_order_id, idempotency_token, attempts, last_error, requested_at, updated_at`

// terminalStatuses is the SQL literal set of terminal record states.
const terminalStatuses = `('confirmed', 'failed', 'expired')`

func scanExecutionRow(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var venueKind, action, status string
	err := row.Scan(
		&rec.PostID, &rec.Asset, &venueKind, &action, &status,
		&rec.VenueOrderID, &rec.IdempotencyToken, &rec.Attempts, &rec.LastError,
		&rec.RequestedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.VenueKind = domain.VenueKind(venueKind)
	rec.Action = domain.VenueAction(action)
	rec.Status = domain.ExecStatus(status)
	return rec, nil
}

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var recs []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Upsert stores the record, replacing any existing row for the same post.
func (s *ExecutionStore) Upsert(ctx context.Context, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO execution_records (
			post_id, asset, venue_kind, action, status,
			venue_order_id, idempotency_token, attempts, last_error,
			requested_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (post_id) DO UPDATE SET
			asset          = EXCLUDED.asset,
			venue_kind     = EXCLUDED.venue_kind,
			action         = EXCLUDED.action,
			status         = EXCLUDED.status,
			venue_order_id = EXCLUDED.venue_order_id,
			attempts       = EXCLUDED.attempts,
			last_error     = EXCLUDED.last_error,
			updated_at     = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		rec.PostID, rec.Asset, string(rec.VenueKind), string(rec.Action), string(rec.Status),
		rec.VenueOrderID, rec.IdempotencyToken, rec.Attempts, rec.LastError,
		rec.RequestedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert execution %s: %w", rec.PostID, err)
	}
	return nil
}

// GetByPostID retrieves the record for a post.
func (s *ExecutionStore) GetByPostID(ctx context.Context, postID string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM execution_records WHERE post_id = $1`, postID)

	rec, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", postID, err)
	}
	return rec, nil
}

// ListOpen returns all non-terminal records.
func (s *ExecutionStore) ListOpen(ctx context.Context) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM execution_records
		 WHERE status NOT IN `+terminalStatuses+`
		 ORDER BY requested_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open executions: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open executions: %w", err)
	}
	return recs, nil
}

// ListRecent returns the most recently updated records.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM execution_records
		 ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent executions: %w", err)
	}
	return recs, nil
}

// ListTerminalBefore returns terminal records last updated before the cutoff.
func (s *ExecutionStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM execution_records
		 WHERE status IN `+terminalStatuses+` AND updated_at < $1
		 ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal executions: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal executions: %w", err)
	}
	return recs, nil
}

// DeleteTerminalBefore prunes terminal records last updated before the
// cutoff. Non-terminal records are never touched.
func (s *ExecutionStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM execution_records
		 WHERE status IN `+terminalStatuses+` AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal executions: %w", err)
	}
	return tag.RowsAffected(), nil
}
