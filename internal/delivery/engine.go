package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/metrics"
)

// Sender performs the channel-specific send for one item. Implementations
// return TransientError / PermanentError to tag the failure class; any
// other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, item *domain.DeliveryItem) error
}

// TransientError marks network/timeout/5xx failures.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks auth/malformed-endpoint/non-429 4xx failures. They
// still consume retry attempts but are logged and counted separately.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// DeadLetterSink receives items that exhausted their attempts.
type DeadLetterSink interface {
	Add(ctx context.Context, dl *domain.DeadLetter) error
}

// Engine is the generic retry/backoff delivery subsystem. Two cooperating
// loops run under Start: the dispatch loop pulls due pending items and
// sends them under a global concurrency bound; the retry loop moves due
// pending_retry items back to pending.
type Engine struct {
	repo storage.DeliveryRepository
	dead DeadLetterSink
	cfg  config.DeliveryConfig

	mu      sync.RWMutex
	senders map[domain.DeliveryKind]Sender

	sem   *semaphore.Weighted
	stats *TargetStats
	kick  chan struct{}
	wg    sync.WaitGroup
}

// NewEngine creates a delivery engine. dead may be nil (dead letters are
// then only visible via the failed state in storage).
func NewEngine(repo storage.DeliveryRepository, dead DeadLetterSink, cfg config.DeliveryConfig) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 50
	}
	return &Engine{
		repo:    repo,
		dead:    dead,
		cfg:     cfg,
		senders: make(map[domain.DeliveryKind]Sender),
		sem:     semaphore.NewWeighted(int64(workers)),
		stats:   NewTargetStats(),
		kick:    make(chan struct{}, 1),
	}
}

// RegisterSender installs the channel-specific transport for a kind.
func (e *Engine) RegisterSender(kind domain.DeliveryKind, s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.senders[kind] = s
}

// Stats exposes the per-target rolling stats.
func (e *Engine) Stats() *TargetStats { return e.stats }

// Enqueue persists a new item in pending state and wakes the dispatch loop.
func (e *Engine) Enqueue(ctx context.Context, item *domain.DeliveryItem) (string, error) {
	if item.Target == "" {
		return "", errors.New("delivery item requires a target")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = e.cfg.MaxAttempts
	}

	now := time.Now().UTC()
	item.State = domain.DeliveryPending
	item.NextAttemptAt = now
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := e.repo.Save(ctx, item); err != nil {
		return "", fmt.Errorf("failed to enqueue delivery item: %w", err)
	}

	e.wake()
	return item.ID, nil
}

// Cancel stops a not-yet-sent item. In-flight sends are never cancelled
// retroactively.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	for _, from := range []domain.DeliveryState{domain.DeliveryPending, domain.DeliveryPendingRetry} {
		ok, err := e.repo.UpdateState(ctx, id, from, domain.DeliveryCancelled)
		if err != nil {
			return err
		}
		if ok {
			metrics.DeliveriesTerminal.WithLabelValues("", string(domain.DeliveryCancelled)).Inc()
			return nil
		}
	}
	return nil
}

// Requeue resurrects a failed (dead-lettered) item with a fresh attempt
// budget. Explicit operator action only.
func (e *Engine) Requeue(ctx context.Context, id string) error {
	item, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.State != domain.DeliveryFailed {
		return fmt.Errorf("item %s is %s, only failed items can be requeued", id, item.State)
	}

	now := time.Now().UTC()
	item.State = domain.DeliveryPending
	item.Attempts = 0
	item.NextAttemptAt = now
	item.LastError = ""
	item.UpdatedAt = now
	if err := e.repo.Save(ctx, item); err != nil {
		return fmt.Errorf("failed to requeue item: %w", err)
	}

	e.wake()
	return nil
}

// Recover re-arms items left in_flight by a previous process (boot).
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.repo.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight items: %w", err)
	}
	if n > 0 {
		slog.Info("delivery engine recovered in-flight items", "count", n)
	}
	return nil
}

// Start launches the dispatch and retry loops. They run until ctx is
// cancelled; Wait drains in-flight sends afterwards.
func (e *Engine) Start(ctx context.Context) {
	go e.dispatchLoop(ctx)
	go e.retryLoop(ctx)
}

// Wait blocks until all in-flight sends have finished or ctx expires.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}
		e.dispatchReady(ctx)
	}
}

func (e *Engine) dispatchReady(ctx context.Context) {
	items, err := e.repo.GetDue(ctx, domain.DeliveryPending, time.Now().UTC(), e.cfg.BatchSize)
	if err != nil {
		slog.Error("dispatch loop: failed to fetch due items", "error", err)
		return
	}

	for _, item := range items {
		// CAS into in_flight so concurrent loops can't double-send.
		ok, err := e.repo.UpdateState(ctx, item.ID, domain.DeliveryPending, domain.DeliveryInFlight)
		if err != nil {
			slog.Error("dispatch loop: failed to claim item", "item_id", item.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Shutting down: put the claim back for the next boot.
			_, _ = e.repo.UpdateState(ctx, item.ID, domain.DeliveryInFlight, domain.DeliveryPending)
			return
		}

		e.wg.Add(1)
		go func(item *domain.DeliveryItem) {
			defer e.wg.Done()
			defer e.sem.Release(1)
			e.attempt(ctx, item)
		}(item)
	}
}

func (e *Engine) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		items, err := e.repo.GetDue(ctx, domain.DeliveryPendingRetry, time.Now().UTC(), e.cfg.BatchSize)
		if err != nil {
			slog.Error("retry loop: failed to fetch retry items", "error", err)
			continue
		}
		requeued := 0
		for _, item := range items {
			ok, err := e.repo.UpdateState(ctx, item.ID, domain.DeliveryPendingRetry, domain.DeliveryPending)
			if err != nil {
				slog.Error("retry loop: failed to requeue item", "item_id", item.ID, "error", err)
				continue
			}
			if ok {
				requeued++
			}
		}
		if requeued > 0 {
			e.wake()
		}

		if counts, err := e.repo.CountByState(ctx); err == nil {
			metrics.RetryQueueDepth.Set(float64(counts[domain.DeliveryPendingRetry]))
		}
	}
}

// attempt performs one send. item has already been claimed (in_flight).
func (e *Engine) attempt(ctx context.Context, item *domain.DeliveryItem) {
	// Re-read so redundant claims of an already-delivered item no-op.
	current, err := e.repo.Get(ctx, item.ID)
	if err != nil {
		slog.Error("delivery attempt: failed to load item", "item_id", item.ID, "error", err)
		return
	}
	if current.State == domain.DeliveryDelivered {
		return
	}
	item = current

	e.mu.RLock()
	sender := e.senders[item.Kind]
	e.mu.RUnlock()
	if sender == nil {
		e.fail(ctx, item, fmt.Errorf("no sender registered for kind %q", item.Kind))
		return
	}

	// The send is the only intended suspension point, bounded by its own
	// timeout independent of the backoff timer.
	sendCtx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err = sender.Send(sendCtx, item)
	latency := time.Since(start)

	item.Attempts++
	item.UpdatedAt = time.Now().UTC()
	e.stats.Record(item.Target, err == nil, latency)
	metrics.DeliveryLatency.WithLabelValues(string(item.Kind), item.Channel).Observe(latency.Seconds())

	if err == nil {
		item.State = domain.DeliveryDelivered
		item.LastError = ""
		if saveErr := e.repo.Save(ctx, item); saveErr != nil {
			slog.Error("delivery attempt: failed to persist success", "item_id", item.ID, "error", saveErr)
		}
		metrics.DeliveryAttempts.WithLabelValues(string(item.Kind), item.Channel, "success").Inc()
		metrics.DeliveriesTerminal.WithLabelValues(string(item.Kind), string(domain.DeliveryDelivered)).Inc()
		slog.Debug("delivery succeeded",
			"item_id", item.ID, "target", item.Target, "attempts", item.Attempts)
		return
	}

	result := "transient_error"
	var perm *PermanentError
	if errors.As(err, &perm) {
		result = "permanent_error"
	}
	metrics.DeliveryAttempts.WithLabelValues(string(item.Kind), item.Channel, result).Inc()

	item.LastError = err.Error()
	if item.Attempts >= item.MaxAttempts {
		e.fail(ctx, item, err)
		return
	}

	item.State = domain.DeliveryPendingRetry
	item.NextAttemptAt = time.Now().UTC().Add(Backoff(e.cfg, item.Attempts))
	if saveErr := e.repo.Save(ctx, item); saveErr != nil {
		slog.Error("delivery attempt: failed to persist retry", "item_id", item.ID, "error", saveErr)
		return
	}
	slog.Warn("delivery failed, scheduled retry",
		"item_id", item.ID, "target", item.Target,
		"attempt", item.Attempts, "max_attempts", item.MaxAttempts,
		"next_attempt_at", item.NextAttemptAt, "error", err)
}

// fail terminalizes an item and parks it in the dead-letter store.
func (e *Engine) fail(ctx context.Context, item *domain.DeliveryItem, cause error) {
	item.State = domain.DeliveryFailed
	item.LastError = cause.Error()
	item.UpdatedAt = time.Now().UTC()
	if err := e.repo.Save(ctx, item); err != nil {
		slog.Error("delivery: failed to persist terminal failure", "item_id", item.ID, "error", err)
	}

	metrics.DeliveriesTerminal.WithLabelValues(string(item.Kind), string(domain.DeliveryFailed)).Inc()
	metrics.DeadLetters.Inc()
	slog.Error("delivery exhausted retries, dead-lettering",
		"item_id", item.ID, "target", item.Target, "attempts", item.Attempts, "error", cause)

	if e.dead == nil {
		return
	}
	dl := &domain.DeadLetter{
		ItemID:       item.ID,
		Kind:         string(item.Kind),
		Target:       item.Target,
		LastError:    item.LastError,
		Attempts:     item.Attempts,
		SubmissionID: item.SubmissionID,
		FailedAt:     time.Now().UTC(),
	}
	if err := e.dead.Add(ctx, dl); err != nil {
		slog.Error("delivery: failed to record dead letter", "item_id", item.ID, "error", err)
	}
}
