package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	got := make(chan Event, 2)
	bus.Subscribe(EventConnectionOpened, "first", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventConnectionOpened, "second", func(ctx context.Context, e Event) error {
		got <- e
		return nil
	})

	bus.Emit(context.Background(), Event{
		Type:    EventConnectionOpened,
		Source:  "test",
		Payload: ConnectionOpenedPayload{ConnectionID: 7, Address: "127.0.0.1:1"},
	})

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			p, ok := e.Payload.(ConnectionOpenedPayload)
			if !ok || p.ConnectionID != 7 {
				t.Errorf("payload = %#v", e.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("handler was not invoked")
		}
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	wantErr := errors.New("boom")
	var calls atomic.Int32
	bus.Subscribe(EventDataReceived, "ok", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventDataReceived, "fails", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return wantErr
	})
	bus.Subscribe(EventDataReceived, "panics", func(ctx context.Context, e Event) error {
		calls.Add(1)
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventDataReceived})
	if !errors.Is(err, wantErr) {
		t.Errorf("EmitSync() error = %v, want %v", err, wantErr)
	}
	if calls.Load() != 3 {
		t.Errorf("handlers called %d times, want 3", calls.Load())
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	handler := func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	}
	bus.Subscribe(EventShutdown, "a", handler)
	bus.Subscribe(EventShutdown, "b", handler)
	bus.Unsubscribe(EventShutdown, "a")

	if n := bus.HandlerCount(EventShutdown); n != 1 {
		t.Fatalf("HandlerCount() = %d, want 1", n)
	}

	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handlers called %d times, want 1", calls.Load())
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Error("StopCh() not closed after Stop()")
	}

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	if calls.Load() != 1 {
		t.Errorf("handler ran after Stop()")
	}
}
