// Package network implements Beacon's endpoint: the peer connection
// listener, the UDP discovery responder that serves the current
// advertisement, and the client used to query other endpoints.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/util"
)

// writeTimeout bounds a single frame write to a peer.
const writeTimeout = 10 * time.Second

// Connection wraps a peer connection accepted by the endpoint. Peers exchange
// u16 length-prefixed frames whose contents the endpoint does not interpret.
type Connection struct {
	mu sync.Mutex
	// writeMu orders frames on the wire. mu is never held across a write.
	writeMu sync.Mutex
	id      uint64
	conn    net.Conn
	logger  zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time

	framesReceived uint64
	bytesReceived  uint64

	closed bool
	reason events.CloseReason
}

// NewConnection wraps an existing net.Conn under the given connection id.
func NewConnection(id uint64, conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:           id,
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		logger: util.ComponentLogger("connection").With().
			Uint64("connection_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the endpoint-assigned connection identifier.
func (c *Connection) ID() uint64 {
	return c.id
}

// ReadFrame reads a single frame from the peer.
// Blocks until a frame is available or timeout occurs.
func (c *Connection) ReadFrame(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	data, err := protocol.ReadPacket(c.conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.framesReceived++
	c.bytesReceived += uint64(len(data))
	c.mu.Unlock()

	return data, nil
}

// WriteFrame sends a single frame to the peer.
func (c *Connection) WriteFrame(data []byte) error {
	if c.IsClosed() {
		return fmt.Errorf("connection is closed")
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := protocol.WritePacket(c.conn, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// CloseWithReason closes the connection. Only the first reason is kept.
func (c *Connection) CloseWithReason(reason events.CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.reason = reason
	c.logger.Debug().Str("reason", string(reason)).Msg("connection closed")
	return c.conn.Close()
}

// Close closes the connection as a shutdown.
func (c *Connection) Close() error {
	return c.CloseWithReason(events.CloseShutdown)
}

// IsClosed returns whether the connection has been closed locally.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Reason returns the reason recorded by CloseWithReason.
func (c *Connection) Reason() events.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Stats returns the number of frames and payload bytes received.
func (c *Connection) Stats() (frames, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesReceived, c.bytesReceived
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionInfo is a snapshot of a live connection for display.
type ConnectionInfo struct {
	ID             uint64    `json:"connection_id"`
	Address        string    `json:"address"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	FramesReceived uint64    `json:"frames_received"`
	BytesReceived  uint64    `json:"bytes_received"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	frames, bytes := c.Stats()
	return ConnectionInfo{
		ID:             c.id,
		Address:        c.RemoteAddr().String(),
		ConnectedAt:    c.connectedAt,
		LastActivity:   c.LastActivity(),
		FramesReceived: frames,
		BytesReceived:  bytes,
	}
}

// ConnectionRegistry tracks live peer connections by id.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	conns  map[uint64]*Connection
	logger zerolog.Logger
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[uint64]*Connection),
		logger: util.ComponentLogger("connection_registry"),
	}
}

// Register adds a connection to the registry, replacing any connection
// already registered under the same id.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[conn.ID()]; ok && existing != conn {
		existing.CloseWithReason(events.CloseReplaced)
	}

	r.conns[conn.ID()] = conn
	r.logger.Debug().Uint64("connection_id", conn.ID()).Msg("connection registered")
}

// Unregister removes a connection from the registry and closes it.
func (r *ConnectionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
		r.logger.Debug().Uint64("connection_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all active connections.
func (r *ConnectionRegistry) GetAll() map[uint64]*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uint64]*Connection, len(r.conns))
	for k, v := range r.conns {
		result[k] = v
	}
	return result
}

// Count returns the number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection with the given reason.
func (r *ConnectionRegistry) CloseAll(reason events.CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.CloseWithReason(reason)
		delete(r.conns, id)
	}
}

// CleanStale closes connections that have been inactive for longer than timeout.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			conn.CloseWithReason(events.CloseStale)
			delete(r.conns, id)
			cleaned++
			r.logger.Warn().
				Uint64("connection_id", id).
				Time("last_activity", conn.LastActivity()).
				Msg("cleaned stale connection")
		}
	}

	return cleaned
}

// SendToAll sends a frame to every connected peer and returns how many
// writes succeeded. The registry is not locked while writing, so a slow peer
// does not hold up Register, kicks or stale cleanup.
func (r *ConnectionRegistry) SendToAll(ctx context.Context, data []byte) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := conn.WriteFrame(data); err != nil {
			r.logger.Warn().Err(err).Uint64("connection_id", conn.ID()).Msg("failed to send to peer")
			continue
		}
		sent++
	}
	return sent
}
