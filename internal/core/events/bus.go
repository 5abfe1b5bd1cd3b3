package events

import (
	"log/slog"
	"sync"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/metrics"
)

// Bus fans status events out to subscribers. Publish never blocks: each
// subscriber gets its own buffered channel, and a full buffer drops the
// event for that subscriber only.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan domain.StatusEvent
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan domain.StatusEvent)}
}

// Subscribe registers a named subscriber and returns its event channel.
// Re-subscribing under the same name replaces (and closes) the old channel.
func (b *Bus) Subscribe(name string, buffer int) <-chan domain.StatusEvent {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.StatusEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[name]; ok {
		close(old)
	}
	b.subs[name] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		close(ch)
		delete(b.subs, name)
	}
}

// Publish delivers ev to every subscriber without blocking the caller.
func (b *Bus) Publish(ev domain.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(name).Inc()
			slog.Warn("event bus: subscriber buffer full, dropping event",
				"subscriber", name,
				"event_type", ev.EventType,
				"submission_id", ev.SubmissionID,
			)
		}
	}
}

// Close shuts down all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
	}
}
