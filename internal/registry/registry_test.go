package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/core/events"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/infra/storage/memory"
)

func testConfig() config.RegistryConfig {
	return config.RegistryConfig{
		MaxRetries:      2,
		DefaultTimeout:  time.Hour,
		UrgentTimeout:   10 * time.Minute,
		EventBufferSize: 16,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *memory.SubmissionRepo) {
	t.Helper()
	repo := memory.NewSubmissionRepo(memory.NewMemoryStorage())
	return NewRegistry(repo, events.NewBus(), testConfig()), repo
}

func mustCreate(t *testing.T, reg *Registry, req CreateRequest) *domain.Submission {
	t.Helper()
	sub, err := reg.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return sub
}

func mustApply(t *testing.T, reg *Registry, id string, to domain.Status) *domain.Submission {
	t.Helper()
	sub, err := reg.Apply(context.Background(), id, to, "test", nil)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", to, err)
	}
	return sub
}

func TestCreateDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)

	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	if sub.ID == "" {
		t.Error("expected generated id")
	}
	if sub.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", sub.Status)
	}
	if sub.Priority != domain.PriorityNormal {
		t.Errorf("priority = %s, want normal", sub.Priority)
	}
	if sub.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want 2", sub.MaxRetries)
	}
	if sub.TimeoutAt.Before(sub.CreatedAt.Add(59 * time.Minute)) {
		t.Errorf("timeout_at %v not ~1h after creation %v", sub.TimeoutAt, sub.CreatedAt)
	}
	if reg.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", reg.ActiveCount())
	}

	// History starts with the first applied transition, not creation.
	history, err := reg.History(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("fresh submission history length = %d, want 0", len(history))
	}
}

func TestCreateValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Create(context.Background(), CreateRequest{OrgID: "org-1"}); err == nil {
		t.Error("expected error for missing document_id")
	}
}

func TestCreateUrgentTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sub := mustCreate(t, reg, CreateRequest{
		DocumentID: "doc-1", OrgID: "org-1", Priority: domain.PriorityUrgent,
	})
	if sub.TimeoutAt.After(sub.CreatedAt.Add(11 * time.Minute)) {
		t.Errorf("urgent timeout_at %v not ~10m after creation", sub.TimeoutAt)
	}
}

func TestApplyFullLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	path := []domain.Status{
		domain.StatusValidating, domain.StatusValidated, domain.StatusQueued,
		domain.StatusTransmitting, domain.StatusTransmitted,
		domain.StatusProcessing, domain.StatusAccepted,
	}
	var last *domain.Submission
	for _, to := range path {
		last = mustApply(t, reg, sub.ID, to)
	}

	if last.Status != domain.StatusAccepted {
		t.Errorf("final status = %s, want accepted", last.Status)
	}
	if last.StartedAt == nil {
		t.Error("StartedAt not set on first transmitting")
	}
	if last.CompletedAt == nil {
		t.Error("CompletedAt not set on terminal")
	}
	if reg.ActiveCount() != 0 {
		t.Errorf("terminal record still in hot set, ActiveCount = %d", reg.ActiveCount())
	}

	// Terminal records remain reachable through the store.
	got, err := reg.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get after terminal: %v", err)
	}
	if got.Status != domain.StatusAccepted {
		t.Errorf("stored status = %s, want accepted", got.Status)
	}

	history, err := reg.History(ctx, sub.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != len(path) {
		t.Errorf("history length = %d, want %d", len(history), len(path))
	}
}

func TestApplyInvalidTransitionLeavesRecordUnchanged(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	_, err := reg.Apply(ctx, sub.ID, domain.StatusAccepted, "skip ahead", nil)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != domain.StatusPending || invalid.To != domain.StatusAccepted {
		t.Errorf("error carries %s -> %s, want pending -> accepted", invalid.From, invalid.To)
	}

	got, _ := reg.Get(ctx, sub.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status changed to %s after invalid transition", got.Status)
	}
}

func TestApplyOnTerminalRecord(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})
	mustApply(t, reg, sub.ID, domain.StatusCancelled)

	_, err := reg.Apply(ctx, sub.ID, domain.StatusValidating, "resurrect", nil)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on terminal record, got %v", err)
	}
}

func TestApplyUnknownSubmission(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Apply(context.Background(), "nope", domain.StatusValidating, "", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryExhaustionConvertsToFailed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	mustApply(t, reg, sub.ID, domain.StatusValidating)
	first := mustApply(t, reg, sub.ID, domain.StatusRetry)
	if first.RetryCount != 1 || first.Status != domain.StatusRetry {
		t.Fatalf("first retry: count=%d status=%s", first.RetryCount, first.Status)
	}

	mustApply(t, reg, sub.ID, domain.StatusValidating)
	second := mustApply(t, reg, sub.ID, domain.StatusRetry)
	if second.RetryCount != 2 || second.Status != domain.StatusRetry {
		t.Fatalf("second retry: count=%d status=%s", second.RetryCount, second.Status)
	}

	// Third retry exceeds MaxRetries (2) and converts to failed.
	mustApply(t, reg, sub.ID, domain.StatusValidating)
	third := mustApply(t, reg, sub.ID, domain.StatusRetry)
	if third.Status != domain.StatusFailed {
		t.Fatalf("exhausted retry status = %s, want failed", third.Status)
	}

	history, _ := reg.History(ctx, sub.ID)
	last := history[len(history)-1]
	if last.To != domain.StatusFailed || last.Reason != reasonMaxRetries {
		t.Errorf("last transition = %s (%q), want failed (%q)", last.To, last.Reason, reasonMaxRetries)
	}
}

func TestAuthorityRefsSetOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	mustApply(t, reg, sub.ID, domain.StatusValidating)
	if _, err := reg.Apply(ctx, sub.ID, domain.StatusValidated, "ok", map[string]any{"authority_ref": "REF-1"}); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.Get(ctx, sub.ID)
	if got.AuthorityRef != "REF-1" {
		t.Fatalf("authority_ref = %q, want REF-1", got.AuthorityRef)
	}

	if _, err := reg.Apply(ctx, sub.ID, domain.StatusQueued, "ok", map[string]any{"authority_ref": "REF-2"}); err != nil {
		t.Fatal(err)
	}
	got, _ = reg.Get(ctx, sub.ID)
	if got.AuthorityRef != "REF-1" {
		t.Errorf("authority_ref overwritten to %q", got.AuthorityRef)
	}
}

// failingRepo wraps a working repository and fails ApplyTransition on demand.
type failingRepo struct {
	storage.SubmissionRepository
	fail bool
}

func (r *failingRepo) ApplyTransition(ctx context.Context, sub *domain.Submission, tr domain.Transition) error {
	if r.fail {
		return errors.New("disk on fire")
	}
	return r.SubmissionRepository.ApplyTransition(ctx, sub, tr)
}

func TestPersistenceFailureLeavesMemoryUnchanged(t *testing.T) {
	inner := memory.NewSubmissionRepo(memory.NewMemoryStorage())
	repo := &failingRepo{SubmissionRepository: inner}
	reg := NewRegistry(repo, events.NewBus(), testConfig())
	ctx := context.Background()

	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})

	repo.fail = true
	_, err := reg.Apply(ctx, sub.ID, domain.StatusValidating, "", nil)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	got, _ := reg.Get(ctx, sub.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("in-memory status mutated to %s despite persistence failure", got.Status)
	}

	// The record is still transitionable once the store recovers.
	repo.fail = false
	if _, err := reg.Apply(ctx, sub.ID, domain.StatusValidating, "", nil); err != nil {
		t.Errorf("Apply after recovery failed: %v", err)
	}
}

func TestReloadRebuildsHotSet(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewSubmissionRepo(store)
	reg := NewRegistry(repo, events.NewBus(), testConfig())

	a := mustCreate(t, reg, CreateRequest{DocumentID: "doc-a", OrgID: "org-1"})
	b := mustCreate(t, reg, CreateRequest{DocumentID: "doc-b", OrgID: "org-1"})
	mustApply(t, reg, b.ID, domain.StatusCancelled)

	// Simulate a restart against the same durable store.
	restarted := NewRegistry(repo, events.NewBus(), testConfig())
	if err := restarted.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if restarted.ActiveCount() != 1 {
		t.Fatalf("ActiveCount after reload = %d, want 1", restarted.ActiveCount())
	}
	got, err := restarted.Get(context.Background(), a.ID)
	if err != nil || got.Status != domain.StatusPending {
		t.Errorf("reloaded submission: %v, %v", got, err)
	}
}

func TestStatusEventsPublished(t *testing.T) {
	repo := memory.NewSubmissionRepo(memory.NewMemoryStorage())
	bus := events.NewBus()
	ch := bus.Subscribe("test", 16)
	reg := NewRegistry(repo, bus, testConfig())

	sub := mustCreate(t, reg, CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})
	mustApply(t, reg, sub.ID, domain.StatusValidating)

	created := <-ch
	if created.EventType != domain.EventSubmissionCreated {
		t.Errorf("first event = %s, want %s", created.EventType, domain.EventSubmissionCreated)
	}
	changed := <-ch
	if changed.EventType != domain.EventStatusChanged {
		t.Errorf("second event = %s, want %s", changed.EventType, domain.EventStatusChanged)
	}
	if changed.OldStatus != domain.StatusPending || changed.NewStatus != domain.StatusValidating {
		t.Errorf("event statuses %s -> %s", changed.OldStatus, changed.NewStatus)
	}
}
