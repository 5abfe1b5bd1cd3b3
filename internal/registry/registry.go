package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/core/events"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/metrics"
)

// ErrPersistence wraps durable-store failures. The in-memory record is left
// exactly as it was before the attempted transition.
var ErrPersistence = errors.New("persistence failure")

// ErrNotFound is returned for unknown submission ids.
var ErrNotFound = errors.New("submission not found")

const reasonMaxRetries = "max retries exceeded"

// Registry owns all submission state. Every mutation goes through Create or
// Apply; transitions for one submission are serialized by a per-record lock.
type Registry struct {
	repo storage.SubmissionRepository
	bus  *events.Bus
	cfg  config.RegistryConfig

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	sub *domain.Submission
}

// NewRegistry creates a registry. Call Reload before accepting work.
func NewRegistry(repo storage.SubmissionRepository, bus *events.Bus, cfg config.RegistryConfig) *Registry {
	return &Registry{
		repo:    repo,
		bus:     bus,
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Reload rebuilds the in-memory hot set from the durable store. Must run
// before the service accepts new work (crash recovery).
func (r *Registry) Reload(ctx context.Context) error {
	subs, err := r.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload submissions: %w", err)
	}

	r.mu.Lock()
	r.entries = make(map[string]*entry, len(subs))
	for _, sub := range subs {
		r.entries[sub.ID] = &entry{sub: sub}
	}
	r.mu.Unlock()

	metrics.ActiveSubmissions.Set(float64(len(subs)))
	slog.Info("registry reloaded", "active_submissions", len(subs))
	return nil
}

// CreateRequest carries the collaborator submission-create call.
type CreateRequest struct {
	DocumentID  string
	OrgID       string
	Type        domain.SubmissionType
	Priority    domain.Priority
	SubmittedBy string
	Metadata    map[string]string
}

// Create registers a new submission in status pending.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*domain.Submission, error) {
	if req.DocumentID == "" || req.OrgID == "" {
		return nil, errors.New("document_id and org_id are required")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if req.Type == "" {
		req.Type = domain.TypeInvoice
	}

	now := time.Now().UTC()
	sub := &domain.Submission{
		ID:          uuid.NewString(),
		DocumentID:  req.DocumentID,
		OrgID:       req.OrgID,
		Type:        req.Type,
		Priority:    req.Priority,
		Status:      domain.StatusPending,
		SubmittedBy: req.SubmittedBy,
		MaxRetries:  r.cfg.MaxRetries,
		TimeoutAt:   now.Add(r.cfg.TimeoutFor(string(req.Priority))),
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.mu.Lock()
	r.entries[sub.ID] = &entry{sub: sub}
	active := len(r.entries)
	r.mu.Unlock()

	metrics.ActiveSubmissions.Set(float64(active))

	r.publish(sub, domain.StatusPending, domain.StatusPending, domain.EventSubmissionCreated, "created")
	return cloneSub(sub), nil
}

// Apply transitions a submission to a new status. It validates against the
// transition table, persists record and transition atomically, then updates
// the hot set and publishes the status event.
func (r *Registry) Apply(ctx context.Context, id string, to domain.Status, reason string, meta map[string]any) (*domain.Submission, error) {
	e := r.entry(id)
	if e == nil {
		// Not in the hot set: either unknown or already terminal.
		sub, err := r.repo.Get(ctx, id)
		if err != nil {
			return nil, ErrNotFound
		}
		metrics.InvalidTransitions.WithLabelValues(string(sub.Status), string(to)).Inc()
		return nil, &InvalidTransitionError{SubmissionID: id, From: sub.Status, To: to}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.sub.Status
	if !CanTransition(from, to) {
		metrics.InvalidTransitions.WithLabelValues(string(from), string(to)).Inc()
		return nil, &InvalidTransitionError{SubmissionID: id, From: from, To: to}
	}

	// Work on a copy so a persistence failure leaves the record untouched.
	next := cloneSub(e.sub)
	now := time.Now().UTC()

	if to == domain.StatusRetry {
		next.RetryCount++
		if next.RetryCount > next.MaxRetries {
			to = domain.StatusFailed
			reason = reasonMaxRetries
		}
	}

	next.Status = to
	next.UpdatedAt = now
	if to == domain.StatusTransmitting && next.StartedAt == nil {
		next.StartedAt = &now
	}
	if to.Terminal() {
		next.CompletedAt = &now
	}
	applyAuthorityRefs(next, meta)

	tr := domain.Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Metadata:  meta,
		Timestamp: now,
		Duration:  now.Sub(e.sub.UpdatedAt),
	}

	if err := r.repo.ApplyTransition(ctx, next, tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.sub = next
	if to.Terminal() {
		r.mu.Lock()
		delete(r.entries, id)
		active := len(r.entries)
		r.mu.Unlock()
		metrics.ActiveSubmissions.Set(float64(active))
	}

	metrics.TransitionsTotal.WithLabelValues(string(next.Type), string(to)).Inc()
	slog.Debug("submission transitioned",
		"submission_id", id, "from", from, "to", to, "reason", reason)

	r.publish(next, from, to, domain.EventTypeFor(to), reason)
	return cloneSub(next), nil
}

// Get returns a submission from the hot set, falling back to the store for
// terminal records.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Submission, error) {
	if e := r.entry(id); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return cloneSub(e.sub), nil
	}

	sub, err := r.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSubmissionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// History returns the ordered transition history.
func (r *Registry) History(ctx context.Context, id string) ([]domain.Transition, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.repo.GetHistory(ctx, id)
}

// Snapshot returns a point-in-time copy of the non-terminal hot set.
// Sweeps iterate the snapshot so no lock is held during external calls.
func (r *Registry) Snapshot() []*domain.Submission {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	subs := make([]*domain.Submission, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		subs = append(subs, cloneSub(e.sub))
		e.mu.Unlock()
	}
	return subs
}

// ActiveCount returns the hot-set size.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Archive moves terminal records older than the retention window to the
// archive store. Terminal records already left the hot set.
func (r *Registry) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	moved, err := r.repo.Archive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if moved > 0 {
		metrics.SubmissionsArchived.Add(float64(moved))
	}
	return moved, nil
}

func (r *Registry) entry(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) publish(sub *domain.Submission, from, to domain.Status, eventType, reason string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(domain.StatusEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		SubmissionID: sub.ID,
		DocumentID:   sub.DocumentID,
		OrgID:        sub.OrgID,
		OldStatus:    from,
		NewStatus:    to,
		Priority:     sub.Priority,
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
		Data: map[string]string{
			"type":     string(sub.Type),
			"priority": string(sub.Priority),
		},
	})
}

// applyAuthorityRefs lifts authority-assigned references out of transition
// metadata onto the record. Set once, never overwritten.
func applyAuthorityRefs(sub *domain.Submission, meta map[string]any) {
	if meta == nil {
		return
	}
	if ref, ok := meta["authority_ref"].(string); ok && ref != "" && sub.AuthorityRef == "" {
		sub.AuthorityRef = ref
	}
	if msg, ok := meta["authority_msg"].(string); ok && msg != "" && sub.AuthorityMsg == "" {
		sub.AuthorityMsg = msg
	}
}

func cloneSub(sub *domain.Submission) *domain.Submission {
	c := *sub
	if sub.Metadata != nil {
		c.Metadata = make(map[string]string, len(sub.Metadata))
		for k, v := range sub.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
