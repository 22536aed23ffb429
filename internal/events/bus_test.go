package events

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)

	bus.Publish(New(HouseholdChanged, "h1", nil))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != HouseholdChanged {
				t.Errorf("type = %q, want %q", ev.Type, HouseholdChanged)
			}
			if ev.HouseholdID != "h1" {
				t.Errorf("household = %q, want h1", ev.HouseholdID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestSubscriptionClosedOnCancel(t *testing.T) {
	bus := NewBus(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

func TestPublishFullBufferDrops(t *testing.T) {
	bus := NewBus(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	for i := 0; i < subscriberBufferSize+5; i++ {
		bus.Publish(New(RemoteStoreChanged, "", nil))
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != subscriberBufferSize {
				t.Errorf("received %d events, want %d", count, subscriberBufferSize)
			}
			return
		}
	}
}

func TestPublishStampsTime(t *testing.T) {
	bus := NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	bus.Publish(Event{Type: RouteChanged})

	ev := <-ch
	if ev.At.IsZero() {
		t.Error("expected publish to stamp the event time")
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch := bus.Subscribe(ctx)
			bus.Publish(New(ShareChanged, "h", nil))
			<-ch
			cancel()
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}
