package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/beacon/internal/events"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"), 42)
	if err != nil {
		t.Fatalf("NewHistoryStore() error = %v", err)
	}
	t.Cleanup(func() { hs.Close() })
	return hs
}

func TestHistoryConnectionLifecycle(t *testing.T) {
	hs := openTestStore(t)
	opened := time.Now().Add(-time.Minute)

	if err := hs.RecordOpened(7, "127.0.0.1:5000", opened); err != nil {
		t.Fatal(err)
	}
	err := hs.RecordClosed(events.ConnectionClosedPayload{
		ConnectionID:   7,
		Reason:         events.CloseRemote,
		FramesReceived: 3,
		BytesReceived:  12,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	records, err := hs.RecentConnections(10)
	if err != nil {
		t.Fatalf("RecentConnections() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("RecentConnections() returned %d rows, want 1", len(records))
	}
	rec := records[0]
	if rec.NetworkID != 42 || rec.ConnectionID != 7 || rec.Address != "127.0.0.1:5000" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ClosedAt == nil || rec.CloseReason != string(events.CloseRemote) {
		t.Errorf("close not recorded: %+v", rec)
	}
	if rec.FramesReceived != 3 || rec.BytesReceived != 12 {
		t.Errorf("stats = %d frames, %d bytes", rec.FramesReceived, rec.BytesReceived)
	}
	if rec.OpenedAt.UnixMilli() != opened.UnixMilli() {
		t.Errorf("OpenedAt = %v, want %v", rec.OpenedAt, opened)
	}
}

func TestHistoryCloseBeforeOpen(t *testing.T) {
	hs := openTestStore(t)

	if err := hs.RecordClosed(events.ConnectionClosedPayload{ConnectionID: 1, Reason: events.CloseTimeout}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := hs.RecordOpened(1, "10.0.0.1:1", time.Now()); err != nil {
		t.Fatal(err)
	}

	records, err := hs.RecentConnections(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d rows, want 1", len(records))
	}
	if records[0].Address != "10.0.0.1:1" || records[0].CloseReason != string(events.CloseTimeout) {
		t.Errorf("record = %+v", records[0])
	}
}

func TestHistoryRecentConnectionsLimit(t *testing.T) {
	hs := openTestStore(t)
	base := time.Now()
	for i := uint64(1); i <= 5; i++ {
		if err := hs.RecordOpened(i, "peer", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	records, err := hs.RecentConnections(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d rows, want 2", len(records))
	}
	if records[0].ConnectionID != 5 || records[1].ConnectionID != 4 {
		t.Errorf("order = %d, %d; want 5, 4", records[0].ConnectionID, records[1].ConnectionID)
	}
}

func TestHistoryPrune(t *testing.T) {
	hs := openTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	hs.RecordOpened(1, "old", old)
	hs.RecordClosed(events.ConnectionClosedPayload{ConnectionID: 1, Reason: events.CloseRemote}, old)
	hs.RecordOpened(2, "open", old)
	hs.RecordAdvertisement([]byte{0x01, 0x02}, old)
	hs.RecordAdvertisement([]byte{0x03}, time.Now())

	removed, err := hs.PruneOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("PruneOlderThan() removed %d rows, want 2", removed)
	}

	conns, _ := hs.RecentConnections(10)
	if len(conns) != 1 || conns[0].Address != "open" {
		t.Errorf("remaining connections = %+v", conns)
	}
	ads, err := hs.RecentAdvertisements(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 1 || ads[0].Payload != "03" || ads[0].Length != 1 {
		t.Errorf("remaining advertisements = %+v", ads)
	}
}

func TestHistorySubscribe(t *testing.T) {
	hs := openTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	hs.Subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	err := bus.EmitSync(ctx, events.Event{
		Type:    events.EventAdvertisementChanged,
		Payload: events.AdvertisementChangedPayload{NetworkID: 42, Advertisement: []byte{0xAB}},
	})
	if err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}

	ads, err := hs.RecentAdvertisements(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ads) != 1 || ads[0].Payload != "ab" {
		t.Errorf("advertisements = %+v", ads)
	}
}
