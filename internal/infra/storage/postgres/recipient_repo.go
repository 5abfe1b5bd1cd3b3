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

// RecipientRepo implements storage.RecipientRepository using PostgreSQL.
type RecipientRepo struct {
	db *DB
}

// NewRecipientRepo creates a new PostgreSQL recipient repository.
func NewRecipientRepo(db *DB) *RecipientRepo {
	return &RecipientRepo{db: db}
}

type recipientRow struct {
	ID          string `db:"id"`
	OrgID       string `db:"org_id"`
	Channel     string `db:"channel"`
	Address     string `db:"address"`
	Preferences []byte `db:"preferences"`
	Active      bool   `db:"active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r recipientRow) toDomain() (*domain.Recipient, error) {
	var prefs domain.Preferences
	if len(r.Preferences) > 0 {
		if err := json.Unmarshal(r.Preferences, &prefs); err != nil {
			return nil, fmt.Errorf("failed to decode recipient preferences: %w", err)
		}
	}
	return &domain.Recipient{
		ID:          r.ID,
		OrgID:       r.OrgID,
		Channel:     domain.Channel(r.Channel),
		Address:     r.Address,
		Preferences: prefs,
		Active:      r.Active,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}, nil
}

// Save inserts or updates a recipient.
func (r *RecipientRepo) Save(ctx context.Context, rc *domain.Recipient) error {
	prefs, err := json.Marshal(rc.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	query := `
		INSERT INTO recipients (id, org_id, channel, address, preferences, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			channel = EXCLUDED.channel,
			address = EXCLUDED.address,
			preferences = EXCLUDED.preferences,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		rc.ID, rc.OrgID, string(rc.Channel), rc.Address, prefs, rc.Active,
		formatTime(rc.CreatedAt), formatTime(rc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save recipient: %w", err)
	}
	return nil
}

// Get retrieves a recipient.
func (r *RecipientRepo) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `
		SELECT id, org_id, channel, address, preferences, active, created_at, updated_at
		FROM recipients WHERE id = $1
	`
	var row recipientRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return row.toDomain()
}

// ListActive retrieves all active recipients.
func (r *RecipientRepo) ListActive(ctx context.Context) ([]*domain.Recipient, error) {
	query := `
		SELECT id, org_id, channel, address, preferences, active, created_at, updated_at
		FROM recipients WHERE active = TRUE
	`
	var rows []recipientRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	rcs := make([]*domain.Recipient, 0, len(rows))
	for _, row := range rows {
		rc, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		rcs = append(rcs, rc)
	}
	return rcs, nil
}

// SetActive toggles a recipient's active flag.
func (r *RecipientRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE recipients SET active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set recipient active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrRecipientNotFound
	}
	return nil
}
