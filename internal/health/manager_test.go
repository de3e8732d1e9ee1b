package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/network"
)

type fakeEndpoint struct {
	err      error
	registry *network.ConnectionRegistry
}

func (f *fakeEndpoint) SelfTest(ctx context.Context) error { return f.err }

func (f *fakeEndpoint) Connections() *network.ConnectionRegistry { return f.registry }

func TestDiscoveryCheckTracksHealth(t *testing.T) {
	ep := &fakeEndpoint{registry: network.NewConnectionRegistry()}
	m := NewManager(events.NewEventBus(), ep)

	m.checkDiscovery(context.Background())
	if !m.Heartbeat().DiscoveryHealthy {
		t.Error("DiscoveryHealthy = false after a passing self-test")
	}

	ep.err = errors.New("no response")
	m.checkDiscovery(context.Background())
	if m.Heartbeat().DiscoveryHealthy {
		t.Error("DiscoveryHealthy = true after a failing self-test")
	}
}

func TestHeartbeatEvent(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	m := NewManager(bus, &fakeEndpoint{registry: network.NewConnectionRegistry()})
	m.emitHeartbeat(context.Background())

	select {
	case e := <-got:
		p, ok := e.Payload.(events.HeartbeatPayload)
		if !ok {
			t.Fatalf("payload type %T", e.Payload)
		}
		if p.Connections != 0 {
			t.Errorf("Connections = %d", p.Connections)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat not emitted")
	}
}
