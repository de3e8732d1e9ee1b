package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/events"
)

// HistoryStore records connection lifecycles and advertisement changes.
type HistoryStore struct {
	db        *Database
	networkID uint64
}

// ConnectionRecord is one peer connection as stored in the history.
type ConnectionRecord struct {
	ID             int64      `json:"id"`
	NetworkID      uint64     `json:"network_id"`
	ConnectionID   uint64     `json:"connection_id"`
	Address        string     `json:"address"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	FramesReceived uint64     `json:"frames_received"`
	BytesReceived  uint64     `json:"bytes_received"`
}

// AdvertisementRecord is one advertisement the endpoint registered.
type AdvertisementRecord struct {
	ID        int64     `json:"id"`
	NetworkID uint64    `json:"network_id"`
	Payload   string    `json:"payload_hex"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHistoryStore opens the history database and creates its schema.
// Rows are tagged with networkID so several runs can share one file.
func NewHistoryStore(dbPath string, networkID uint64) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database, networkID: networkID}
	if err := hs.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

// historyMigrations is the schema of the history database, oldest first.
// Append new steps; never edit an applied one.
var historyMigrations = []Migration{
	{
		Name: "connections",
		SQL: `
			CREATE TABLE IF NOT EXISTS connections (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				network_id TEXT NOT NULL,
				connection_id INTEGER NOT NULL,
				address TEXT NOT NULL,
				opened_at INTEGER NOT NULL,
				closed_at INTEGER,
				close_reason TEXT DEFAULT '',
				frames_received INTEGER DEFAULT 0,
				bytes_received INTEGER DEFAULT 0,
				UNIQUE (network_id, connection_id)
			);
			CREATE INDEX IF NOT EXISTS idx_connections_opened ON connections(opened_at);`,
	},
	{
		Name: "advertisements",
		SQL: `
			CREATE TABLE IF NOT EXISTS advertisements (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				network_id TEXT NOT NULL,
				payload TEXT NOT NULL,
				length INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_advertisements_created ON advertisements(created_at);`,
	},
}

func (hs *HistoryStore) migrate() error {
	return hs.db.Migrate(historyMigrations)
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Subscribe attaches the store to the event bus.
func (hs *HistoryStore) Subscribe(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventConnectionOpened, "db.connectionOpened", hs.onConnectionOpened)
	eventBus.Subscribe(events.EventConnectionClosed, "db.connectionClosed", hs.onConnectionClosed)
	eventBus.Subscribe(events.EventAdvertisementChanged, "db.advertisementChanged", hs.onAdvertisementChanged)
}

func (hs *HistoryStore) onConnectionOpened(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionOpenedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return hs.RecordOpened(p.ConnectionID, p.Address, time.Now())
}

func (hs *HistoryStore) onConnectionClosed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionClosedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return hs.RecordClosed(p, time.Now())
}

func (hs *HistoryStore) onAdvertisementChanged(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.AdvertisementChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return hs.RecordAdvertisement(p.Advertisement, time.Now())
}

// RecordOpened inserts a connection row. Opening and closing events are
// delivered asynchronously, so a close may already have been stored; in that
// case only the address and open time are filled in.
func (hs *HistoryStore) RecordOpened(connectionID uint64, address string, at time.Time) error {
	_, err := hs.db.Exec(`
		INSERT INTO connections (network_id, connection_id, address, opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(network_id, connection_id) DO UPDATE SET
			address = excluded.address,
			opened_at = excluded.opened_at`,
		hs.networkKey(), int64(connectionID), address, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record opened connection %d: %w", connectionID, err)
	}
	return nil
}

// RecordClosed stores the close reason and traffic counters of a connection.
func (hs *HistoryStore) RecordClosed(p events.ConnectionClosedPayload, at time.Time) error {
	_, err := hs.db.Exec(`
		INSERT INTO connections (network_id, connection_id, address, opened_at, closed_at, close_reason, frames_received, bytes_received)
		VALUES (?, ?, '', ?, ?, ?, ?, ?)
		ON CONFLICT(network_id, connection_id) DO UPDATE SET
			closed_at = excluded.closed_at,
			close_reason = excluded.close_reason,
			frames_received = excluded.frames_received,
			bytes_received = excluded.bytes_received`,
		hs.networkKey(), int64(p.ConnectionID), at.UnixMilli(), at.UnixMilli(),
		string(p.Reason), int64(p.FramesReceived), int64(p.BytesReceived))
	if err != nil {
		return fmt.Errorf("failed to record closed connection %d: %w", p.ConnectionID, err)
	}
	return nil
}

// RecordAdvertisement stores an advertisement buffer as hex.
func (hs *HistoryStore) RecordAdvertisement(payload []byte, at time.Time) error {
	_, err := hs.db.Exec(
		"INSERT INTO advertisements (network_id, payload, length, created_at) VALUES (?, ?, ?, ?)",
		hs.networkKey(), hex.EncodeToString(payload), len(payload), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record advertisement: %w", err)
	}
	return nil
}

// RecentConnections returns up to limit connections, newest first.
func (hs *HistoryStore) RecentConnections(limit int) ([]ConnectionRecord, error) {
	rows, err := hs.db.Query(`
		SELECT id, network_id, connection_id, address, opened_at, closed_at,
			close_reason, frames_received, bytes_received
		FROM connections
		ORDER BY opened_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var records []ConnectionRecord
	for rows.Next() {
		var (
			rec                   ConnectionRecord
			networkID             string
			connectionID          int64
			openedAt              int64
			closedAt              sql.NullInt64
			frames, bytesReceived int64
		)
		if err := rows.Scan(&rec.ID, &networkID, &connectionID, &rec.Address, &openedAt,
			&closedAt, &rec.CloseReason, &frames, &bytesReceived); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		rec.NetworkID, _ = strconv.ParseUint(networkID, 10, 64)
		rec.ConnectionID = uint64(connectionID)
		rec.OpenedAt = time.UnixMilli(openedAt)
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64)
			rec.ClosedAt = &t
		}
		rec.FramesReceived = uint64(frames)
		rec.BytesReceived = uint64(bytesReceived)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentAdvertisements returns up to limit advertisements, newest first.
func (hs *HistoryStore) RecentAdvertisements(limit int) ([]AdvertisementRecord, error) {
	rows, err := hs.db.Query(`
		SELECT id, network_id, payload, length, created_at
		FROM advertisements
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query advertisements: %w", err)
	}
	defer rows.Close()

	var records []AdvertisementRecord
	for rows.Next() {
		var (
			rec       AdvertisementRecord
			networkID string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &networkID, &rec.Payload, &rec.Length, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan advertisement: %w", err)
		}
		rec.NetworkID, _ = strconv.ParseUint(networkID, 10, 64)
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneOlderThan deletes history older than age and returns the number of
// rows removed.
func (hs *HistoryStore) PruneOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()

	var removed int64
	err := hs.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM connections WHERE closed_at IS NOT NULL AND closed_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune connections: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec("DELETE FROM advertisements WHERE created_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune advertisements: %w", err)
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().Int64("rows", removed).Dur("age", age).Msg("history pruned")
	return removed, nil
}

// network ids are stored as decimal text; SQLite integers are signed.
func (hs *HistoryStore) networkKey() string {
	return strconv.FormatUint(hs.networkID, 10)
}
