package callback

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/infra/storage"
)

// Payload is the outbound webhook body contract.
type Payload struct {
	EventID      string            `json:"event_id"`
	EventType    string            `json:"event_type"`
	SubmissionID string            `json:"submission_id"`
	DocumentID   string            `json:"document_id"`
	Timestamp    string            `json:"timestamp"`
	Data         map[string]string `json:"data,omitempty"`
	OldStatus    string            `json:"old_status,omitempty"`
	NewStatus    string            `json:"new_status,omitempty"`
}

// Dispatcher fans status events out to subscribed webhook endpoints. It only
// selects subscribers, builds authenticated payloads, and enqueues; retry
// discipline belongs to the delivery engine.
type Dispatcher struct {
	endpoints storage.EndpointRepository
	engine    *delivery.Engine
	userAgent string
}

func NewDispatcher(endpoints storage.EndpointRepository, engine *delivery.Engine, userAgent string) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		engine:    engine,
		userAgent: userAgent,
	}
}

// Run consumes status events until the channel closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch enqueues one webhook delivery per matching active endpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.StatusEvent) {
	eps, err := d.endpoints.ListActive(ctx)
	if err != nil {
		slog.Error("callback dispatcher: failed to list endpoints", "error", err)
		return
	}

	body, err := json.Marshal(Payload{
		EventID:      ev.EventID,
		EventType:    ev.EventType,
		SubmissionID: ev.SubmissionID,
		DocumentID:   ev.DocumentID,
		Timestamp:    ev.Timestamp.UTC().Format(time.RFC3339),
		Data:         ev.Data,
		OldStatus:    string(ev.OldStatus),
		NewStatus:    string(ev.NewStatus),
	})
	if err != nil {
		slog.Error("callback dispatcher: failed to marshal payload", "error", err)
		return
	}

	for _, ep := range eps {
		if !ep.Filter.Matches(ev) {
			continue
		}
		if ep.OrgID != "" && ep.OrgID != ev.OrgID {
			continue
		}

		auth, err := authHeaders(ep, body)
		if err != nil {
			slog.Error("callback dispatcher: failed to build auth headers",
				"endpoint_id", ep.ID, "error", err)
			continue
		}

		itemID := uuid.NewString()
		headers := map[string]string{
			"Content-Type":   "application/json",
			"User-Agent":     d.userAgent,
			HeaderEventType:  ev.EventType,
			HeaderEventID:    ev.EventID,
			HeaderDeliveryID: itemID,
		}
		for k, v := range auth {
			headers[k] = v
		}

		if _, err := d.engine.Enqueue(ctx, &domain.DeliveryItem{
			ID:           itemID,
			Kind:         domain.DeliveryKindWebhook,
			Channel:      "http",
			Target:       ep.URL,
			Payload:      body,
			Headers:      headers,
			EventID:      ev.EventID,
			SubmissionID: ev.SubmissionID,
		}); err != nil {
			slog.Error("callback dispatcher: failed to enqueue webhook",
				"endpoint_id", ep.ID, "submission_id", ev.SubmissionID, "error", err)
		}
	}
}
