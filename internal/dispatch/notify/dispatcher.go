package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/metrics"
)

// FrequencyLimiter enforces per-recipient hourly caps. Nil disables caps.
type FrequencyLimiter interface {
	Increment(ctx context.Context, recipientID, notifType string) (int64, error)
}

// message is the channel provider payload. One delivery item is enqueued
// per (message, recipient, channel) tuple.
type message struct {
	Channel      string `json:"channel"`
	To           string `json:"to"`
	From         string `json:"from,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
	Type         string `json:"type"`
	RecipientID  string `json:"recipient_id"`
	SubmissionID string `json:"submission_id"`
	EventID      string `json:"event_id"`
}

// Dispatcher fans status events out to registered recipients. Preference
// rules (quiet hours, minimum priority, frequency caps) are evaluated once
// per candidate recipient before enqueue, never after.
type Dispatcher struct {
	recipients storage.RecipientRepository
	engine     *delivery.Engine
	providers  config.NotificationsConfig
	limiter    FrequencyLimiter
	templates  map[string]Template
	now        func() time.Time
}

func NewDispatcher(
	recipients storage.RecipientRepository,
	engine *delivery.Engine,
	providers config.NotificationsConfig,
	limiter FrequencyLimiter,
) *Dispatcher {
	return &Dispatcher{
		recipients: recipients,
		engine:     engine,
		providers:  providers,
		limiter:    limiter,
		templates:  defaultTemplates,
		now:        time.Now,
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

// Dispatch enqueues one notification per eligible recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.StatusEvent) {
	rcs, err := d.recipients.ListActive(ctx)
	if err != nil {
		slog.Error("notify dispatcher: failed to list recipients", "error", err)
		return
	}

	notifType := notifTypeFor(ev.EventType)
	tmpl, ok := d.templates[notifType]
	if !ok {
		tmpl = d.templates[TypeStatusChanged]
	}
	subject, body := tmpl.Render(map[string]string{
		"submission_id": ev.SubmissionID,
		"document_id":   ev.DocumentID,
		"old_status":    string(ev.OldStatus),
		"new_status":    string(ev.NewStatus),
		"reason":        ev.Reason,
	})

	for _, rc := range rcs {
		if !d.eligible(ctx, rc, ev, notifType) {
			continue
		}

		target, headers, skip := d.route(rc)
		if skip {
			continue
		}

		payload, err := json.Marshal(message{
			Channel:      string(rc.Channel),
			To:           rc.Address,
			From:         d.senderFor(rc.Channel),
			Subject:      subject,
			Body:         body,
			Type:         notifType,
			RecipientID:  rc.ID,
			SubmissionID: ev.SubmissionID,
			EventID:      ev.EventID,
		})
		if err != nil {
			slog.Error("notify dispatcher: failed to marshal message", "error", err)
			continue
		}

		if _, err := d.engine.Enqueue(ctx, &domain.DeliveryItem{
			Kind:         domain.DeliveryKindNotification,
			Channel:      string(rc.Channel),
			Target:       target,
			Payload:      payload,
			Headers:      headers,
			EventID:      ev.EventID,
			SubmissionID: ev.SubmissionID,
		}); err != nil {
			slog.Error("notify dispatcher: failed to enqueue notification",
				"recipient_id", rc.ID, "submission_id", ev.SubmissionID, "error", err)
		}
	}
}

// eligible applies org scoping and all preference rules.
func (d *Dispatcher) eligible(ctx context.Context, rc *domain.Recipient, ev domain.StatusEvent, notifType string) bool {
	if rc.OrgID != "" && rc.OrgID != ev.OrgID {
		return false
	}

	prefs := rc.Preferences
	if prefs.MinPriority != "" && ev.Priority.Rank() < prefs.MinPriority.Rank() {
		metrics.NotificationsSuppressed.WithLabelValues("min_priority").Inc()
		return false
	}
	if len(prefs.Types) > 0 {
		found := false
		for _, t := range prefs.Types {
			if t == notifType {
				found = true
				break
			}
		}
		if !found {
			metrics.NotificationsSuppressed.WithLabelValues("type_filter").Inc()
			return false
		}
	}
	if prefs.InQuietHours(d.now()) {
		metrics.NotificationsSuppressed.WithLabelValues("quiet_hours").Inc()
		return false
	}
	if prefs.MaxPerHour > 0 && d.limiter != nil {
		count, err := d.limiter.Increment(ctx, rc.ID, notifType)
		if err != nil {
			// Cap check failures must not block delivery.
			slog.Warn("notify dispatcher: frequency cap check failed",
				"recipient_id", rc.ID, "error", err)
		} else if count > int64(prefs.MaxPerHour) {
			metrics.NotificationsSuppressed.WithLabelValues("frequency_cap").Inc()
			return false
		}
	}
	return true
}

// route returns the delivery target and headers for a recipient's channel.
func (d *Dispatcher) route(rc *domain.Recipient) (target string, headers map[string]string, skip bool) {
	headers = map[string]string{"Content-Type": "application/json"}

	var provider config.ProviderConfig
	switch rc.Channel {
	case domain.ChannelEmail:
		provider = d.providers.Email
	case domain.ChannelSMS:
		provider = d.providers.SMS
	case domain.ChannelChat:
		provider = d.providers.Chat
	case domain.ChannelWebhook:
		// Recipient-owned webhook: post straight to the address.
		return rc.Address, headers, false
	default:
		slog.Warn("notify dispatcher: unknown channel", "channel", rc.Channel, "recipient_id", rc.ID)
		return "", nil, true
	}

	if provider.URL == "" {
		slog.Warn("notify dispatcher: channel provider not configured",
			"channel", rc.Channel, "recipient_id", rc.ID)
		return "", nil, true
	}
	if provider.APIKey != "" {
		headers["X-API-Key"] = provider.APIKey
	}
	return provider.URL, headers, false
}

func (d *Dispatcher) senderFor(ch domain.Channel) string {
	switch ch {
	case domain.ChannelEmail:
		return d.providers.Email.Sender
	case domain.ChannelSMS:
		return d.providers.SMS.Sender
	case domain.ChannelChat:
		return d.providers.Chat.Sender
	}
	return ""
}
