package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/util"
)

// ConnectionListener accepts peer connections, registers them and turns
// their traffic into connection_opened, data_received and connection_closed
// events.
type ConnectionListener struct {
	eventBus    *events.EventBus
	registry    *ConnectionRegistry
	readTimeout time.Duration
	listener    net.Listener
	nextID      atomic.Uint64
	conns       sync.WaitGroup
	logger      zerolog.Logger
}

// NewConnectionListener creates a listener that reports to eventBus.
func NewConnectionListener(eventBus *events.EventBus, registry *ConnectionRegistry, readTimeout time.Duration) *ConnectionListener {
	return &ConnectionListener{
		eventBus:    eventBus,
		registry:    registry,
		readTimeout: readTimeout,
		logger:      util.ComponentLogger("connection_listener"),
	}
}

// Bind opens the TCP socket. It returns once the listener can accept.
func (l *ConnectionListener) Bind(ctx context.Context, addr string) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start connection listener on %s: %w", addr, err)
	}
	l.listener = ln

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("connection listener started")
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *ConnectionListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes every live
// connection and waits for their handlers to finish.
func (l *ConnectionListener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.conns.Add(1)
		go func() {
			defer l.conns.Done()
			l.handleConnection(ctx, conn)
		}()
	}

	l.registry.CloseAll(events.CloseShutdown)
	l.conns.Wait()
	l.logger.Info().Msg("connection listener stopped")
}

// handleConnection runs the read loop for one peer.
func (l *ConnectionListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	conn := NewConnection(l.nextID.Add(1), rawConn)
	id := conn.ID()

	l.registry.Register(conn)

	l.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConnectionOpened,
		Source: "connection_listener",
		Payload: events.ConnectionOpenedPayload{
			ConnectionID: id,
			Address:      rawConn.RemoteAddr().String(),
		},
	})

	reason := l.readLoop(ctx, conn)

	conn.CloseWithReason(reason)
	l.registry.Unregister(id)

	frames, bytes := conn.Stats()
	l.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConnectionClosed,
		Source: "connection_listener",
		Payload: events.ConnectionClosedPayload{
			ConnectionID:   id,
			Reason:         conn.Reason(),
			FramesReceived: frames,
			BytesReceived:  bytes,
		},
	})
}

// readLoop emits data_received for every frame until the connection ends
// and returns why it ended.
func (l *ConnectionListener) readLoop(ctx context.Context, conn *Connection) events.CloseReason {
	logger := l.logger.With().Uint64("connection_id", conn.ID()).Logger()

	for {
		data, err := conn.ReadFrame(l.readTimeout)
		if err != nil {
			if conn.IsClosed() {
				return conn.Reason()
			}
			if ctx.Err() != nil {
				return events.CloseShutdown
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return events.CloseRemote
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn().Dur("timeout", l.readTimeout).Msg("connection timed out")
				return events.CloseTimeout
			}
			logger.Warn().Err(err).Msg("read error, closing connection")
			return events.CloseReadError
		}

		l.eventBus.Emit(ctx, events.Event{
			Type:   events.EventDataReceived,
			Source: "connection_listener",
			Payload: events.DataReceivedPayload{
				ConnectionID: conn.ID(),
				Data:         data,
			},
		})
	}
}

// Stop closes the listening socket.
func (l *ConnectionListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
