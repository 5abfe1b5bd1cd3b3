package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/infra/storage"
)

// DeliveryRepo implements storage.DeliveryRepository using PostgreSQL.
type DeliveryRepo struct {
	db *DB
}

// NewDeliveryRepo creates a new PostgreSQL delivery item repository.
func NewDeliveryRepo(db *DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

type deliveryRow struct {
	ID            string `db:"id"`
	Kind          string `db:"kind"`
	Channel       string `db:"channel"`
	Target        string `db:"target"`
	Payload       []byte `db:"payload"`
	Headers       []byte `db:"headers"`
	State         string `db:"state"`
	Attempts      int    `db:"attempts"`
	MaxAttempts   int    `db:"max_attempts"`
	NextAttemptAt string `db:"next_attempt_at"`
	LastError     string `db:"last_error"`
	EventID       string `db:"event_id"`
	SubmissionID  string `db:"submission_id"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (r deliveryRow) toDomain() *domain.DeliveryItem {
	var headers map[string]string
	if len(r.Headers) > 0 {
		_ = json.Unmarshal(r.Headers, &headers)
	}
	return &domain.DeliveryItem{
		ID:            r.ID,
		Kind:          domain.DeliveryKind(r.Kind),
		Channel:       r.Channel,
		Target:        r.Target,
		Payload:       r.Payload,
		Headers:       headers,
		State:         domain.DeliveryState(r.State),
		Attempts:      r.Attempts,
		MaxAttempts:   r.MaxAttempts,
		NextAttemptAt: parseTime(r.NextAttemptAt),
		LastError:     r.LastError,
		EventID:       r.EventID,
		SubmissionID:  r.SubmissionID,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

const deliveryColumns = `id, kind, channel, target, payload, headers, state, attempts,
	max_attempts, next_attempt_at, last_error, event_id, submission_id, created_at, updated_at`

// Save inserts or updates a delivery item.
func (r *DeliveryRepo) Save(ctx context.Context, item *domain.DeliveryItem) error {
	headers, err := json.Marshal(item.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO delivery_items (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			next_attempt_at = EXCLUDED.next_attempt_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		item.ID, string(item.Kind), item.Channel, item.Target, item.Payload, headers,
		string(item.State), item.Attempts, item.MaxAttempts,
		formatTime(item.NextAttemptAt), item.LastError, item.EventID, item.SubmissionID,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery item: %w", err)
	}
	return nil
}

// Get retrieves a delivery item.
func (r *DeliveryRepo) Get(ctx context.Context, id string) (*domain.DeliveryItem, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_items WHERE id = $1`

	var row deliveryRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery item: %w", err)
	}
	return row.toDomain(), nil
}

// GetDue retrieves due items in the given state, oldest first.
func (r *DeliveryRepo) GetDue(ctx context.Context, state domain.DeliveryState, now time.Time, limit int) ([]*domain.DeliveryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_items
		WHERE state = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`

	var rows []deliveryRow
	if err := r.db.SelectContext(ctx, &rows, query, string(state), formatTime(now), limit); err != nil {
		return nil, fmt.Errorf("failed to get due items: %w", err)
	}

	items := make([]*domain.DeliveryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// UpdateState transitions an item only if it is still in from.
func (r *DeliveryRepo) UpdateState(ctx context.Context, id string, from, to domain.DeliveryState) (bool, error) {
	query := `
		UPDATE delivery_items
		SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("failed to update item state: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResetInFlight moves items stuck in in_flight back to pending_retry.
func (r *DeliveryRepo) ResetInFlight(ctx context.Context) (int, error) {
	query := `
		UPDATE delivery_items
		SET state = 'pending_retry', next_attempt_at = $1, updated_at = $1
		WHERE state = 'in_flight'
	`
	res, err := r.db.ExecContext(ctx, query, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountByState returns the number of items per state.
func (r *DeliveryRepo) CountByState(ctx context.Context) (map[domain.DeliveryState]int, error) {
	query := `SELECT state, COUNT(*) AS count FROM delivery_items GROUP BY state`

	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	counts := make(map[domain.DeliveryState]int, len(rows))
	for _, row := range rows {
		counts[domain.DeliveryState(row.State)] = row.Count
	}
	return counts, nil
}
