package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/infra/storage/memory"
)

func fastConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Workers:           4,
		MaxAttempts:       2,
		BaseBackoff:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
		RequestTimeout:    time.Second,
		DispatchInterval:  5 * time.Millisecond,
		RetryInterval:     5 * time.Millisecond,
		BatchSize:         10,
	}
}

// stubSender fails the first failures sends, then succeeds.
type stubSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (s *stubSender) Send(ctx context.Context, item *domain.DeliveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		if s.err != nil {
			return s.err
		}
		return &TransientError{Err: errors.New("target unavailable")}
	}
	return nil
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu      sync.Mutex
	letters []*domain.DeadLetter
}

func (r *recordingSink) Add(ctx context.Context, dl *domain.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.letters)
}

func waitForState(t *testing.T, repo storage.DeliveryRepository, id string, want domain.DeliveryState) *domain.DeliveryItem {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		item, err := repo.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item.State == want {
			return item
		}
		time.Sleep(2 * time.Millisecond)
	}
	item, _ := repo.Get(context.Background(), id)
	t.Fatalf("item %s never reached %s (stuck at %s)", id, want, item.State)
	return nil
}

func TestEnqueueDefaults(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())

	id, err := e.Enqueue(context.Background(), &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	if err != nil {
		t.Fatal(err)
	}

	item, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if item.State != domain.DeliveryPending {
		t.Errorf("state = %s, want pending", item.State)
	}
	if item.MaxAttempts != 2 {
		t.Errorf("max_attempts = %d, want 2 from config", item.MaxAttempts)
	}
}

func TestEnqueueRequiresTarget(t *testing.T) {
	e := NewEngine(memory.NewDeliveryRepo(memory.NewMemoryStorage()), nil, fastConfig())
	if _, err := e.Enqueue(context.Background(), &domain.DeliveryItem{Kind: domain.DeliveryKindWebhook}); err == nil {
		t.Error("expected error for missing target")
	}
}

func TestDeliverySucceeds(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())
	sender := &stubSender{}
	e.RegisterSender(domain.DeliveryKindWebhook, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, err := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	if err != nil {
		t.Fatal(err)
	}

	item := waitForState(t, repo, id, domain.DeliveryDelivered)
	if item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", item.Attempts)
	}
	if item.LastError != "" {
		t.Errorf("last_error = %q, want empty", item.LastError)
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	cfg := fastConfig()
	cfg.MaxAttempts = 5
	e := NewEngine(repo, nil, cfg)
	sender := &stubSender{failures: 2}
	e.RegisterSender(domain.DeliveryKindWebhook, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})

	item := waitForState(t, repo, id, domain.DeliveryDelivered)
	if item.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", item.Attempts)
	}
}

func TestDeliveryExhaustionDeadLetters(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	sink := &recordingSink{}
	e := NewEngine(repo, sink, fastConfig())
	sender := &stubSender{failures: 100}
	e.RegisterSender(domain.DeliveryKindWebhook, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:         domain.DeliveryKindWebhook,
		Target:       "https://example.com/hook",
		SubmissionID: "sub-1",
	})

	item := waitForState(t, repo, id, domain.DeliveryFailed)
	if item.Attempts != 2 {
		t.Errorf("attempts = %d, want MaxAttempts 2", item.Attempts)
	}
	if item.LastError == "" {
		t.Error("last_error empty on terminal failure")
	}
	if sink.count() != 1 {
		t.Fatalf("dead letters = %d, want 1", sink.count())
	}
	sink.mu.Lock()
	dl := sink.letters[0]
	sink.mu.Unlock()
	if dl.ItemID != id || dl.SubmissionID != "sub-1" {
		t.Errorf("dead letter = %+v", dl)
	}
}

func TestPermanentErrorStillConsumesAttempts(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())
	sender := &stubSender{failures: 100, err: &PermanentError{Err: errors.New("410 gone")}}
	e.RegisterSender(domain.DeliveryKindWebhook, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	waitForState(t, repo, id, domain.DeliveryFailed)
}

func TestNoSenderRegistered(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:   domain.DeliveryKindNotification,
		Target: "https://example.com/notify",
	})
	waitForState(t, repo, id, domain.DeliveryFailed)
}

func TestCancelPendingItem(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())

	// No Start: the item stays pending until cancelled.
	id, _ := e.Enqueue(context.Background(), &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	if err := e.Cancel(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	item, _ := repo.Get(context.Background(), id)
	if item.State != domain.DeliveryCancelled {
		t.Errorf("state = %s, want cancelled", item.State)
	}
}

func TestRequeueGuardsNonFailed(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())

	id, _ := e.Enqueue(context.Background(), &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	if err := e.Requeue(context.Background(), id); err == nil {
		t.Error("expected error requeueing a pending item")
	}
}

func TestRequeueResetsFailedItem(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())
	ctx := context.Background()

	id, _ := e.Enqueue(ctx, &domain.DeliveryItem{
		Kind:   domain.DeliveryKindWebhook,
		Target: "https://example.com/hook",
	})
	item, _ := repo.Get(ctx, id)
	item.State = domain.DeliveryFailed
	item.Attempts = 2
	item.LastError = "boom"
	if err := repo.Save(ctx, item); err != nil {
		t.Fatal(err)
	}

	if err := e.Requeue(ctx, id); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.Get(ctx, id)
	if got.State != domain.DeliveryPending || got.Attempts != 0 || got.LastError != "" {
		t.Errorf("requeued item = %+v", got)
	}
}

func TestRecoverResetsInFlight(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Save(ctx, &domain.DeliveryItem{
		ID: "stuck", Kind: domain.DeliveryKindWebhook, Target: "https://example.com",
		State: domain.DeliveryInFlight, MaxAttempts: 2,
		NextAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	item, _ := repo.Get(ctx, "stuck")
	if item.State != domain.DeliveryPendingRetry {
		t.Errorf("state = %s, want pending_retry", item.State)
	}
}

func TestRedundantAttemptOfDeliveredItemIsNoOp(t *testing.T) {
	repo := memory.NewDeliveryRepo(memory.NewMemoryStorage())
	e := NewEngine(repo, nil, fastConfig())
	sender := &stubSender{}
	e.RegisterSender(domain.DeliveryKindWebhook, sender)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Save(ctx, &domain.DeliveryItem{
		ID: "done", Kind: domain.DeliveryKindWebhook, Target: "https://example.com",
		State: domain.DeliveryDelivered, Attempts: 1, MaxAttempts: 2,
		NextAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	// A stale claim of an already-delivered item must not re-send.
	e.attempt(ctx, &domain.DeliveryItem{ID: "done", Kind: domain.DeliveryKindWebhook})

	if sender.callCount() != 0 {
		t.Errorf("sender called %d times, want 0", sender.callCount())
	}
	got, _ := repo.Get(ctx, "done")
	if got.State != domain.DeliveryDelivered || got.Attempts != 1 {
		t.Errorf("item mutated: state=%s attempts=%d", got.State, got.Attempts)
	}
}
