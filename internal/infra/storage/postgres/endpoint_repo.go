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

// EndpointRepo implements storage.EndpointRepository using PostgreSQL.
type EndpointRepo struct {
	db *DB
}

// NewEndpointRepo creates a new PostgreSQL endpoint repository.
func NewEndpointRepo(db *DB) *EndpointRepo {
	return &EndpointRepo{db: db}
}

type endpointRow struct {
	ID         string `db:"id"`
	OrgID      string `db:"org_id"`
	URL        string `db:"url"`
	AuthMethod string `db:"auth_method"`
	Credential []byte `db:"credential"`
	Filter     []byte `db:"filter"`
	Active     bool   `db:"active"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

// credential bundles the per-method secrets into one JSON column so adding
// an auth method doesn't need a migration.
type endpointCredential struct {
	Secret     string            `json:"secret,omitempty"`
	Token      string            `json:"token,omitempty"`
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	APIKeyName string            `json:"api_key_name,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (r endpointRow) toDomain() (*domain.Endpoint, error) {
	var cred endpointCredential
	if len(r.Credential) > 0 {
		if err := json.Unmarshal(r.Credential, &cred); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint credential: %w", err)
		}
	}
	var filter domain.EventFilter
	if len(r.Filter) > 0 {
		if err := json.Unmarshal(r.Filter, &filter); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint filter: %w", err)
		}
	}
	return &domain.Endpoint{
		ID:         r.ID,
		OrgID:      r.OrgID,
		URL:        r.URL,
		AuthMethod: domain.AuthMethod(r.AuthMethod),
		Secret:     cred.Secret,
		Token:      cred.Token,
		Username:   cred.Username,
		Password:   cred.Password,
		APIKeyName: cred.APIKeyName,
		Headers:    cred.Headers,
		Filter:     filter,
		Active:     r.Active,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}, nil
}

// Save inserts or updates an endpoint.
func (r *EndpointRepo) Save(ctx context.Context, ep *domain.Endpoint) error {
	cred, err := json.Marshal(endpointCredential{
		Secret:     ep.Secret,
		Token:      ep.Token,
		Username:   ep.Username,
		Password:   ep.Password,
		APIKeyName: ep.APIKeyName,
		Headers:    ep.Headers,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	filter, err := json.Marshal(ep.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal filter: %w", err)
	}

	query := `
		INSERT INTO endpoints (id, org_id, url, auth_method, credential, filter, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			auth_method = EXCLUDED.auth_method,
			credential = EXCLUDED.credential,
			filter = EXCLUDED.filter,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		ep.ID, ep.OrgID, ep.URL, string(ep.AuthMethod), cred, filter, ep.Active,
		formatTime(ep.CreatedAt), formatTime(ep.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save endpoint: %w", err)
	}
	return nil
}

// Get retrieves an endpoint.
func (r *EndpointRepo) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	query := `
		SELECT id, org_id, url, auth_method, credential, filter, active, created_at, updated_at
		FROM endpoints WHERE id = $1
	`
	var row endpointRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return row.toDomain()
}

// ListActive retrieves all active endpoints.
func (r *EndpointRepo) ListActive(ctx context.Context) ([]*domain.Endpoint, error) {
	query := `
		SELECT id, org_id, url, auth_method, credential, filter, active, created_at, updated_at
		FROM endpoints WHERE active = TRUE
	`
	var rows []endpointRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	eps := make([]*domain.Endpoint, 0, len(rows))
	for _, row := range rows {
		ep, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// SetActive toggles an endpoint's active flag.
func (r *EndpointRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE endpoints SET active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set endpoint active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrEndpointNotFound
	}
	return nil
}
