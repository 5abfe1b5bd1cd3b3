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

// SubmissionRepo implements storage.SubmissionRepository using PostgreSQL.
type SubmissionRepo struct {
	db *DB
}

// NewSubmissionRepo creates a new PostgreSQL submission repository.
func NewSubmissionRepo(db *DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

type submissionRow struct {
	ID           string  `db:"id"`
	DocumentID   string  `db:"document_id"`
	OrgID        string  `db:"org_id"`
	Type         string  `db:"type"`
	Priority     string  `db:"priority"`
	Status       string  `db:"status"`
	SubmittedBy  string  `db:"submitted_by"`
	AuthorityRef string  `db:"authority_ref"`
	AuthorityMsg string  `db:"authority_msg"`
	RetryCount   int     `db:"retry_count"`
	MaxRetries   int     `db:"max_retries"`
	TimeoutAt    string  `db:"timeout_at"`
	StartedAt    *string `db:"started_at"`
	CompletedAt  *string `db:"completed_at"`
	Metadata     []byte  `db:"metadata"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
}

func (r submissionRow) toDomain() (*domain.Submission, error) {
	var meta map[string]string
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode submission metadata: %w", err)
		}
	}
	return &domain.Submission{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		OrgID:        r.OrgID,
		Type:         domain.SubmissionType(r.Type),
		Priority:     domain.Priority(r.Priority),
		Status:       domain.Status(r.Status),
		SubmittedBy:  r.SubmittedBy,
		AuthorityRef: r.AuthorityRef,
		AuthorityMsg: r.AuthorityMsg,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		TimeoutAt:    parseTime(r.TimeoutAt),
		StartedAt:    parseTimePtr(r.StartedAt),
		CompletedAt:  parseTimePtr(r.CompletedAt),
		Metadata:     meta,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}, nil
}

const submissionColumns = `id, document_id, org_id, type, priority, status, submitted_by,
	authority_ref, authority_msg, retry_count, max_retries, timeout_at,
	started_at, completed_at, metadata, created_at, updated_at`

// Create persists a new submission and its initial transition.
func (r *SubmissionRepo) Create(ctx context.Context, sub *domain.Submission) error {
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.ExecContext(ctx, query,
		sub.ID, sub.DocumentID, sub.OrgID, string(sub.Type), string(sub.Priority),
		string(sub.Status), sub.SubmittedBy, sub.AuthorityRef, sub.AuthorityMsg,
		sub.RetryCount, sub.MaxRetries, formatTime(sub.TimeoutAt),
		formatTimePtr(sub.StartedAt), formatTimePtr(sub.CompletedAt),
		meta, formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// ApplyTransition persists the updated record and appends the transition
// row in a single transaction.
func (r *SubmissionRepo) ApplyTransition(ctx context.Context, sub *domain.Submission, tr domain.Transition) error {
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	trMeta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal transition metadata: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	updateQuery := `
		UPDATE submissions
		SET status = $2, authority_ref = $3, authority_msg = $4,
			retry_count = $5, started_at = $6, completed_at = $7,
			metadata = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, updateQuery,
		sub.ID, string(sub.Status), sub.AuthorityRef, sub.AuthorityMsg,
		sub.RetryCount, formatTimePtr(sub.StartedAt), formatTimePtr(sub.CompletedAt),
		meta, formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrSubmissionNotFound
	}

	insertQuery := `
		INSERT INTO status_transitions (submission_id, from_status, to_status, reason, metadata, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		sub.ID, string(tr.From), string(tr.To), tr.Reason, trMeta,
		tr.Duration.Milliseconds(), formatTime(tr.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// Get retrieves a submission without history.
func (r *SubmissionRepo) Get(ctx context.Context, id string) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	var row submissionRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return row.toDomain()
}

// GetHistory retrieves the ordered transition history.
func (r *SubmissionRepo) GetHistory(ctx context.Context, id string) ([]domain.Transition, error) {
	query := `
		SELECT from_status, to_status, reason, metadata, duration_ms, created_at
		FROM status_transitions
		WHERE submission_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var rows []struct {
		From       string `db:"from_status"`
		To         string `db:"to_status"`
		Reason     string `db:"reason"`
		Metadata   []byte `db:"metadata"`
		DurationMS int64  `db:"duration_ms"`
		CreatedAt  string `db:"created_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	history := make([]domain.Transition, 0, len(rows))
	for _, row := range rows {
		var meta map[string]any
		if len(row.Metadata) > 0 {
			_ = json.Unmarshal(row.Metadata, &meta)
		}
		history = append(history, domain.Transition{
			From:      domain.Status(row.From),
			To:        domain.Status(row.To),
			Reason:    row.Reason,
			Metadata:  meta,
			Duration:  time.Duration(row.DurationMS) * time.Millisecond,
			Timestamp: parseTime(row.CreatedAt),
		})
	}
	return history, nil
}

// ListActive retrieves all non-terminal submissions.
func (r *SubmissionRepo) ListActive(ctx context.Context) ([]*domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE status NOT IN ('accepted', 'rejected', 'failed', 'timeout', 'cancelled')
		ORDER BY created_at ASC
	`

	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list active submissions: %w", err)
	}

	subs := make([]*domain.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ListByStatus retrieves submissions in a given status.
func (r *SubmissionRepo) ListByStatus(ctx context.Context, status domain.Status, orgID string, limit int) ([]*domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE status = $1`
	args := []any{string(status)}
	if orgID != "" {
		query += ` AND org_id = $2`
		args = append(args, orgID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	subs := make([]*domain.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Archive moves terminal submissions completed before cutoff to the
// archive table.
func (r *SubmissionRepo) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	copyQuery := `
		INSERT INTO submissions_archive (` + submissionColumns + `, archived_at)
		SELECT ` + submissionColumns + `, $2
		FROM submissions
		WHERE status IN ('accepted', 'rejected', 'failed', 'timeout', 'cancelled')
			AND completed_at IS NOT NULL AND completed_at < $1
	`
	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx, copyQuery, formatTime(cutoff), now)
	if err != nil {
		return 0, fmt.Errorf("failed to copy to archive: %w", err)
	}
	moved, _ := res.RowsAffected()
	if moved == 0 {
		return 0, tx.Commit()
	}

	deleteQuery := `
		DELETE FROM submissions
		WHERE status IN ('accepted', 'rejected', 'failed', 'timeout', 'cancelled')
			AND completed_at IS NOT NULL AND completed_at < $1
	`
	if _, err := tx.ExecContext(ctx, deleteQuery, formatTime(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to delete archived submissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}
	return int(moved), nil
}
