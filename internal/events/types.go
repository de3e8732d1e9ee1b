// Package events defines the event bus and the notifications Beacon's
// endpoint publishes to the rest of the application.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Endpoint events
	EventConnectionOpened     EventType = "connection_opened"
	EventConnectionClosed     EventType = "connection_closed"
	EventDataReceived         EventType = "data_received"
	EventAdvertisementChanged EventType = "advertisement_changed"

	// System events
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// CloseReason explains why a peer connection ended.
type CloseReason string

const (
	CloseRemote    CloseReason = "remote_closed"
	CloseTimeout   CloseReason = "timeout"
	CloseReadError CloseReason = "read_error"
	CloseShutdown  CloseReason = "shutdown"
	CloseStale     CloseReason = "stale"
	CloseReplaced  CloseReason = "replaced"
	CloseKicked    CloseReason = "kicked"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionOpenedPayload is emitted when a peer connection is accepted.
type ConnectionOpenedPayload struct {
	ConnectionID uint64 `json:"connection_id"`
	Address      string `json:"address"`
}

// ConnectionClosedPayload is emitted once per connection when it ends.
type ConnectionClosedPayload struct {
	ConnectionID   uint64      `json:"connection_id"`
	Reason         CloseReason `json:"reason"`
	FramesReceived uint64      `json:"frames_received"`
	BytesReceived  uint64      `json:"bytes_received"`
}

// DataReceivedPayload carries one framed payload from a peer, uninterpreted.
type DataReceivedPayload struct {
	ConnectionID uint64 `json:"connection_id"`
	Data         []byte `json:"-"`
}

// AdvertisementChangedPayload carries the newly registered advertisement buffer.
type AdvertisementChangedPayload struct {
	NetworkID     uint64 `json:"network_id"`
	Advertisement []byte `json:"-"`
}

// HeartbeatPayload is a periodic summary of the running endpoint.
type HeartbeatPayload struct {
	Connections      int     `json:"connections"`
	UptimeSec        int64   `json:"uptime_sec"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiscoveryHealthy bool    `json:"discovery_healthy"`
}
