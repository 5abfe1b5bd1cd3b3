package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/infra/storage"
)

// MemoryStorage backs all repositories with maps. Used by tests and by
// storage-less dev mode.
type MemoryStorage struct {
	submissions map[string]*domain.Submission
	history     map[string][]domain.Transition
	archived    map[string]*domain.Submission
	items       map[string]*domain.DeliveryItem
	endpoints   map[string]*domain.Endpoint
	recipients  map[string]*domain.Recipient
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		submissions: make(map[string]*domain.Submission),
		history:     make(map[string][]domain.Transition),
		archived:    make(map[string]*domain.Submission),
		items:       make(map[string]*domain.DeliveryItem),
		endpoints:   make(map[string]*domain.Endpoint),
		recipients:  make(map[string]*domain.Recipient),
	}
}

// -----------------------------------------------------------------------------
// Submission Repository
// -----------------------------------------------------------------------------

type SubmissionRepo struct {
	store *MemoryStorage
}

func NewSubmissionRepo(store *MemoryStorage) *SubmissionRepo {
	return &SubmissionRepo{store: store}
}

func (r *SubmissionRepo) Create(ctx context.Context, sub *domain.Submission) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := cloneSubmission(sub)
	r.store.submissions[sub.ID] = c
	return nil
}

func (r *SubmissionRepo) ApplyTransition(ctx context.Context, sub *domain.Submission, tr domain.Transition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.submissions[sub.ID]; !ok {
		return storage.ErrSubmissionNotFound
	}
	r.store.submissions[sub.ID] = cloneSubmission(sub)
	r.store.history[sub.ID] = append(r.store.history[sub.ID], tr)
	return nil
}

func (r *SubmissionRepo) Get(ctx context.Context, id string) (*domain.Submission, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sub, ok := r.store.submissions[id]
	if !ok {
		return nil, storage.ErrSubmissionNotFound
	}
	return cloneSubmission(sub), nil
}

func (r *SubmissionRepo) GetHistory(ctx context.Context, id string) ([]domain.Transition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	history := r.store.history[id]
	out := make([]domain.Transition, len(history))
	copy(out, history)
	return out, nil
}

func (r *SubmissionRepo) ListActive(ctx context.Context) ([]*domain.Submission, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var subs []*domain.Submission
	for _, sub := range r.store.submissions {
		if !sub.Status.Terminal() {
			subs = append(subs, cloneSubmission(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (r *SubmissionRepo) ListByStatus(ctx context.Context, status domain.Status, orgID string, limit int) ([]*domain.Submission, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var subs []*domain.Submission
	for _, sub := range r.store.submissions {
		if sub.Status != status {
			continue
		}
		if orgID != "" && sub.OrgID != orgID {
			continue
		}
		subs = append(subs, cloneSubmission(sub))
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UpdatedAt.After(subs[j].UpdatedAt) })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (r *SubmissionRepo) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	moved := 0
	for id, sub := range r.store.submissions {
		if sub.Status.Terminal() && sub.CompletedAt != nil && sub.CompletedAt.Before(cutoff) {
			r.store.archived[id] = sub
			delete(r.store.submissions, id)
			delete(r.store.history, id)
			moved++
		}
	}
	return moved, nil
}

// ArchivedCount reports the archive size (test helper).
func (r *SubmissionRepo) ArchivedCount() int {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.archived)
}

func cloneSubmission(sub *domain.Submission) *domain.Submission {
	c := *sub
	if sub.Metadata != nil {
		c.Metadata = make(map[string]string, len(sub.Metadata))
		for k, v := range sub.Metadata {
			c.Metadata[k] = v
		}
	}
	c.History = nil
	return &c
}

// -----------------------------------------------------------------------------
// Delivery Repository
// -----------------------------------------------------------------------------

type DeliveryRepo struct {
	store *MemoryStorage
}

func NewDeliveryRepo(store *MemoryStorage) *DeliveryRepo {
	return &DeliveryRepo{store: store}
}

func (r *DeliveryRepo) Save(ctx context.Context, item *domain.DeliveryItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *item
	r.store.items[item.ID] = &c
	return nil
}

func (r *DeliveryRepo) Get(ctx context.Context, id string) (*domain.DeliveryItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	item, ok := r.store.items[id]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	c := *item
	return &c, nil
}

func (r *DeliveryRepo) GetDue(ctx context.Context, state domain.DeliveryState, now time.Time, limit int) ([]*domain.DeliveryItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var due []*domain.DeliveryItem
	for _, item := range r.store.items {
		if item.State == state && !item.NextAttemptAt.After(now) {
			c := *item
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *DeliveryRepo) UpdateState(ctx context.Context, id string, from, to domain.DeliveryState) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.items[id]
	if !ok || item.State != from {
		return false, nil
	}
	item.State = to
	item.UpdatedAt = time.Now()
	return true, nil
}

func (r *DeliveryRepo) ResetInFlight(ctx context.Context) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	now := time.Now()
	for _, item := range r.store.items {
		if item.State == domain.DeliveryInFlight {
			item.State = domain.DeliveryPendingRetry
			item.NextAttemptAt = now
			item.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *DeliveryRepo) CountByState(ctx context.Context) (map[domain.DeliveryState]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.DeliveryState]int)
	for _, item := range r.store.items {
		counts[item.State]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Endpoint Repository
// -----------------------------------------------------------------------------

type EndpointRepo struct {
	store *MemoryStorage
}

func NewEndpointRepo(store *MemoryStorage) *EndpointRepo {
	return &EndpointRepo{store: store}
}

func (r *EndpointRepo) Save(ctx context.Context, ep *domain.Endpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *ep
	r.store.endpoints[ep.ID] = &c
	return nil
}

func (r *EndpointRepo) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ep, ok := r.store.endpoints[id]
	if !ok {
		return nil, storage.ErrEndpointNotFound
	}
	c := *ep
	return &c, nil
}

func (r *EndpointRepo) ListActive(ctx context.Context) ([]*domain.Endpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var eps []*domain.Endpoint
	for _, ep := range r.store.endpoints {
		if ep.Active {
			c := *ep
			eps = append(eps, &c)
		}
	}
	return eps, nil
}

func (r *EndpointRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ep, ok := r.store.endpoints[id]
	if !ok {
		return storage.ErrEndpointNotFound
	}
	ep.Active = active
	ep.UpdatedAt = time.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Recipient Repository
// -----------------------------------------------------------------------------

type RecipientRepo struct {
	store *MemoryStorage
}

func NewRecipientRepo(store *MemoryStorage) *RecipientRepo {
	return &RecipientRepo{store: store}
}

func (r *RecipientRepo) Save(ctx context.Context, rc *domain.Recipient) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *rc
	r.store.recipients[rc.ID] = &c
	return nil
}

func (r *RecipientRepo) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rc, ok := r.store.recipients[id]
	if !ok {
		return nil, storage.ErrRecipientNotFound
	}
	c := *rc
	return &c, nil
}

func (r *RecipientRepo) ListActive(ctx context.Context) ([]*domain.Recipient, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var rcs []*domain.Recipient
	for _, rc := range r.store.recipients {
		if rc.Active {
			c := *rc
			rcs = append(rcs, &c)
		}
	}
	return rcs, nil
}

func (r *RecipientRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rc, ok := r.store.recipients[id]
	if !ok {
		return storage.ErrRecipientNotFound
	}
	rc.Active = active
	rc.UpdatedAt = time.Now()
	return nil
}
