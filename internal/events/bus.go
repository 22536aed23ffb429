package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names a coordinator event.
type Type string

const (
	// HouseholdChanged is raised after an invitation is accepted or a
	// household is created, renamed or removed locally.
	HouseholdChanged Type = "household_changed"
	// RemoteStoreChanged signals that the backend replicated changes into a
	// replica. It carries no payload to trust; subscribers re-query.
	RemoteStoreChanged Type = "remote_store_changed"
	// RouteChanged is raised by the router when its state changes.
	RouteChanged Type = "route_changed"
	// ShareChanged is raised when a share is created, refreshed or stopped.
	ShareChanged Type = "share_changed"
	// InviteFailed carries the reason an invitation could not be accepted.
	InviteFailed Type = "invite_failed"
)

const subscriberBufferSize = 32

// Event is a notification published on the Bus.
type Event struct {
	Type        Type           `json:"type"`
	HouseholdID string         `json:"household_id,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	At          time.Time      `json:"at"`
}

// New returns an Event of the given type stamped with the current time.
func New(t Type, householdID string, extra map[string]any) Event {
	return Event{Type: t, HouseholdID: householdID, Extra: extra, At: time.Now().UTC()}
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel of events that is closed once ctx is done.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}()

	return ch
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event", "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
