package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/infra/storage/memory"
)

type stubLimiter struct {
	count int64
	err   error
}

func (s *stubLimiter) Increment(ctx context.Context, recipientID, notifType string) (int64, error) {
	return s.count, s.err
}

func newTestNotify(t *testing.T, providers config.NotificationsConfig, limiter FrequencyLimiter) (*Dispatcher, *memory.RecipientRepo, storage.DeliveryRepository) {
	t.Helper()
	store := memory.NewMemoryStorage()
	recipients := memory.NewRecipientRepo(store)
	items := memory.NewDeliveryRepo(store)
	engine := delivery.NewEngine(items, nil, config.DeliveryConfig{MaxAttempts: 5})
	return NewDispatcher(recipients, engine, providers, limiter), recipients, items
}

func saveRecipient(t *testing.T, repo *memory.RecipientRepo, rc *domain.Recipient) {
	t.Helper()
	rc.Active = true
	if err := repo.Save(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
}

func acceptedEvent() domain.StatusEvent {
	return domain.StatusEvent{
		EventID:      "ev-1",
		EventType:    domain.EventSubmissionAccepted,
		SubmissionID: "sub-1",
		DocumentID:   "doc-1",
		OrgID:        "org-1",
		OldStatus:    domain.StatusProcessing,
		NewStatus:    domain.StatusAccepted,
		Priority:     domain.PriorityNormal,
		Timestamp:    time.Now().UTC(),
	}
}

func queuedItems(t *testing.T, repo storage.DeliveryRepository) []*domain.DeliveryItem {
	t.Helper()
	items, err := repo.GetDue(context.Background(), domain.DeliveryPending, time.Now().UTC().Add(time.Second), 100)
	if err != nil {
		t.Fatal(err)
	}
	return items
}

func TestNotifyWebhookRecipient(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example/notify",
	})

	d.Dispatch(context.Background(), acceptedEvent())

	queued := queuedItems(t, items)
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued))
	}
	item := queued[0]
	if item.Kind != domain.DeliveryKindNotification || item.Target != "https://rc.example/notify" {
		t.Errorf("item = %+v", item)
	}

	var msg message
	if err := json.Unmarshal(item.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeAccepted || msg.SubmissionID != "sub-1" || msg.RecipientID != "rc-1" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Subject == "" || msg.Body == "" {
		t.Error("empty rendered template")
	}
}

func TestNotifyEmailUsesProvider(t *testing.T) {
	providers := config.NotificationsConfig{
		Email: config.ProviderConfig{URL: "https://mail.example/send", APIKey: "k", Sender: "noreply@example.com"},
	}
	d, recipients, items := newTestNotify(t, providers, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelEmail, Address: "ops@example.com",
	})

	d.Dispatch(context.Background(), acceptedEvent())

	queued := queuedItems(t, items)
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued))
	}
	item := queued[0]
	if item.Target != "https://mail.example/send" {
		t.Errorf("target = %s, want provider URL", item.Target)
	}
	if item.Headers["X-API-Key"] != "k" {
		t.Errorf("api key header = %q", item.Headers["X-API-Key"])
	}

	var msg message
	_ = json.Unmarshal(item.Payload, &msg)
	if msg.To != "ops@example.com" || msg.From != "noreply@example.com" {
		t.Errorf("message routing = %+v", msg)
	}
}

func TestNotifyUnconfiguredProviderSkips(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelSMS, Address: "+3361234",
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Errorf("queued = %d, want 0", len(queued))
	}
}

func TestNotifyMinPriority(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example",
		Preferences: domain.Preferences{MinPriority: domain.PriorityHigh},
	})

	// Normal priority event is below the recipient's high floor.
	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Fatalf("queued = %d, want suppressed", len(queued))
	}

	ev := acceptedEvent()
	ev.Priority = domain.PriorityUrgent
	d.Dispatch(context.Background(), ev)
	if queued := queuedItems(t, items); len(queued) != 1 {
		t.Errorf("queued = %d, want 1 for urgent", len(queued))
	}
}

func TestNotifyTypeFilter(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example",
		Preferences: domain.Preferences{Types: []string{TypeRejected}},
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Errorf("queued = %d, want 0 for unwanted type", len(queued))
	}
}

func TestNotifyQuietHours(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)
	d.now = func() time.Time {
		return time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	}

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example",
		Preferences: domain.Preferences{QuietStart: 22, QuietEnd: 6},
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Fatalf("queued = %d, want 0 inside quiet hours", len(queued))
	}

	d.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 1 {
		t.Errorf("queued = %d, want 1 outside quiet hours", len(queued))
	}
}

func TestNotifyFrequencyCap(t *testing.T) {
	limiter := &stubLimiter{count: 6}
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, limiter)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example",
		Preferences: domain.Preferences{MaxPerHour: 5},
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Fatalf("queued = %d, want 0 over the cap", len(queued))
	}

	limiter.count = 3
	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 1 {
		t.Errorf("queued = %d, want 1 under the cap", len(queued))
	}
}

func TestNotifyFrequencyCapFailureDoesNotBlock(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, limiter)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-1", Channel: domain.ChannelWebhook, Address: "https://rc.example",
		Preferences: domain.Preferences{MaxPerHour: 5},
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 1 {
		t.Errorf("queued = %d, want 1 when the cap check fails open", len(queued))
	}
}

func TestNotifyOrgScoping(t *testing.T) {
	d, recipients, items := newTestNotify(t, config.NotificationsConfig{}, nil)

	saveRecipient(t, recipients, &domain.Recipient{
		ID: "rc-other", OrgID: "org-2", Channel: domain.ChannelWebhook, Address: "https://other.example",
	})

	d.Dispatch(context.Background(), acceptedEvent())
	if queued := queuedItems(t, items); len(queued) != 0 {
		t.Errorf("queued = %d, want 0 for foreign org", len(queued))
	}
}

func TestNotifTypeFor(t *testing.T) {
	cases := map[string]string{
		domain.EventSubmissionAccepted:  TypeAccepted,
		domain.EventSubmissionRejected:  TypeRejected,
		domain.EventSubmissionFailed:    TypeFailed,
		domain.EventSubmissionTimeout:   TypeTimeout,
		domain.EventSubmissionCancelled: TypeCancelled,
		domain.EventStatusChanged:       TypeStatusChanged,
		domain.EventSubmissionCreated:   TypeStatusChanged,
	}
	for ev, want := range cases {
		if got := notifTypeFor(ev); got != want {
			t.Errorf("notifTypeFor(%s) = %s, want %s", ev, got, want)
		}
	}
}

func TestTemplateRender(t *testing.T) {
	subject, body := defaultTemplates[TypeRejected].Render(map[string]string{
		"submission_id": "sub-1",
		"document_id":   "doc-1",
		"reason":        "bad vat",
	})
	if subject != "Submission sub-1 rejected" {
		t.Errorf("subject = %q", subject)
	}
	if body != "Document doc-1 was rejected by the authority. Reason: bad vat" {
		t.Errorf("body = %q", body)
	}
}
