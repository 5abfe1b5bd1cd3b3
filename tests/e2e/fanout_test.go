package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/regbridge/subtrack/internal/classify"
	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/core/events"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/dispatch/callback"
	"github.com/regbridge/subtrack/internal/dispatch/notify"
	"github.com/regbridge/subtrack/internal/infra/storage/memory"
	"github.com/regbridge/subtrack/internal/process"
	"github.com/regbridge/subtrack/internal/registry"
)

// Wires registry, event bus, both dispatchers and the ack processor
// together and checks that one acceptance acknowledgment produces exactly
// one webhook and one notification delivery, exactly once.
func TestAcceptanceFansOutExactlyOnce(t *testing.T) {
	store := memory.NewMemoryStorage()
	subRepo := memory.NewSubmissionRepo(store)
	itemRepo := memory.NewDeliveryRepo(store)
	endpoints := memory.NewEndpointRepo(store)
	recipients := memory.NewRecipientRepo(store)

	bus := events.NewBus()
	reg := registry.NewRegistry(subRepo, bus, config.RegistryConfig{
		MaxRetries: 3, DefaultTimeout: time.Hour,
	})
	// The engine is never started, so enqueued items stay pending and
	// countable.
	engine := delivery.NewEngine(itemRepo, nil, config.DeliveryConfig{MaxAttempts: 3})

	classifier := classify.NewEngine()
	errProc := process.NewErrorProcessor(reg, classifier)
	ackProc := process.NewAckProcessor(reg, classifier, errProc)

	callbacks := callback.NewDispatcher(endpoints, engine, "subtrack-test/1.0")
	notifications := notify.NewDispatcher(recipients, engine, config.NotificationsConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go callbacks.Run(ctx, bus.Subscribe("webhooks", 16))
	go notifications.Run(ctx, bus.Subscribe("notifications", 16))

	now := time.Now().UTC()
	if err := endpoints.Save(ctx, &domain.Endpoint{
		ID: "ep-1", OrgID: "org-1", URL: "https://subscriber.example/hook",
		Filter:    domain.EventFilter{EventTypes: []string{domain.EventSubmissionAccepted}},
		Active:    true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := recipients.Save(ctx, &domain.Recipient{
		ID: "rc-1", OrgID: "org-1", Channel: domain.ChannelWebhook,
		Address:     "https://oncall.example/notify",
		Preferences: domain.Preferences{Types: []string{notify.TypeAccepted}},
		Active:      true,
		CreatedAt:   now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	sub, err := reg.Create(ctx, registry.CreateRequest{DocumentID: "doc-1", OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, status := range []domain.Status{
		domain.StatusValidating, domain.StatusValidated, domain.StatusQueued,
		domain.StatusTransmitting, domain.StatusTransmitted,
	} {
		if _, err := reg.Apply(ctx, sub.ID, status, "pipeline", nil); err != nil {
			t.Fatal(err)
		}
	}

	ackPayload := []byte(`{"status":"accepted","result":"approved","code":"200"}`)
	res, err := ackProc.Process(ctx, sub.ID, ackPayload, "application/json")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.NewStatus != domain.StatusAccepted {
		t.Fatalf("ack result = %+v", res)
	}

	webhooks, notifs := waitForFanOut(t, itemRepo, 1, 1)
	if webhooks[0].Target != "https://subscriber.example/hook" {
		t.Errorf("webhook target = %s", webhooks[0].Target)
	}
	if notifs[0].Target != "https://oncall.example/notify" {
		t.Errorf("notification target = %s", notifs[0].Target)
	}

	// A replayed acknowledgment is a no-op: no transition, no new events,
	// no extra deliveries.
	res, err = ackProc.Process(ctx, sub.ID, ackPayload, "application/json")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied {
		t.Error("duplicate ack applied a transition")
	}
	time.Sleep(200 * time.Millisecond)
	waitForFanOut(t, itemRepo, 1, 1)
}

// waitForFanOut polls until exactly nWebhooks/nNotifs pending items exist.
func waitForFanOut(t *testing.T, repo *memory.DeliveryRepo, nWebhooks, nNotifs int) ([]*domain.DeliveryItem, []*domain.DeliveryItem) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var webhooks, notifs []*domain.DeliveryItem
	for {
		items, err := repo.GetDue(context.Background(), domain.DeliveryPending, time.Now().UTC().Add(time.Second), 100)
		if err != nil {
			t.Fatal(err)
		}
		webhooks = webhooks[:0]
		notifs = notifs[:0]
		for _, item := range items {
			switch item.Kind {
			case domain.DeliveryKindWebhook:
				webhooks = append(webhooks, item)
			case domain.DeliveryKindNotification:
				notifs = append(notifs, item)
			}
		}
		if len(webhooks) == nWebhooks && len(notifs) == nNotifs {
			return webhooks, notifs
		}
		if time.Now().After(deadline) {
			t.Fatalf("fan-out = %d webhooks / %d notifications, want %d / %d",
				len(webhooks), len(notifs), nWebhooks, nNotifs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
