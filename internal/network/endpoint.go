package network

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/util"
)

// Endpoint is a running session: it owns the connection listener and the
// discovery responder, and holds the advertisement served to peers.
type Endpoint struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	networkID uint64

	mu            sync.RWMutex
	advertisement []byte

	registry  *ConnectionRegistry
	listener  *ConnectionListener
	discovery *DiscoveryResponder

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewEndpoint creates an endpoint with a freshly generated network id.
func NewEndpoint(cfg *config.Config, eventBus *events.EventBus) (*Endpoint, error) {
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to generate network id: %w", err)
	}
	networkID := binary.LittleEndian.Uint64(idBytes[:])

	registry := NewConnectionRegistry()
	e := &Endpoint{
		cfg:       cfg,
		eventBus:  eventBus,
		networkID: networkID,
		registry:  registry,
		listener: NewConnectionListener(eventBus, registry,
			time.Duration(cfg.Network.ReadTimeoutSec)*time.Second),
		logger: util.ComponentLogger("endpoint").With().Uint64("network_id", networkID).Logger(),
	}
	e.discovery = NewDiscoveryResponder(e, cfg.Network.DiscoveryRatePerSec)
	return e, nil
}

// NetworkID returns the endpoint's session identifier.
func (e *Endpoint) NetworkID() uint64 {
	return e.networkID
}

// SetAdvertisement registers the encoded advertisement served to peers.
// The buffer is copied.
func (e *Endpoint) SetAdvertisement(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	e.mu.Lock()
	e.advertisement = cp
	e.mu.Unlock()

	e.logger.Debug().Int("length", len(cp)).Msg("advertisement updated")

	e.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventAdvertisementChanged,
		Source: "endpoint",
		Payload: events.AdvertisementChangedPayload{
			NetworkID:     e.networkID,
			Advertisement: cp,
		},
	})
}

// Advertisement returns a copy of the current advertisement, or nil if none
// has been registered.
func (e *Endpoint) Advertisement() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.advertisement == nil {
		return nil
	}
	cp := make([]byte, len(e.advertisement))
	copy(cp, e.advertisement)
	return cp
}

// Connections returns the live connection registry.
func (e *Endpoint) Connections() *ConnectionRegistry {
	return e.registry
}

// Listen binds the connection and discovery sockets and returns once both
// are ready. Serving continues in the background until ctx is cancelled.
func (e *Endpoint) Listen(ctx context.Context) error {
	n := e.cfg.Network

	if err := e.listener.Bind(ctx, net.JoinHostPort(n.ListenIP, strconv.Itoa(n.ConnectionPort))); err != nil {
		return err
	}
	if err := e.discovery.Bind(ctx, net.JoinHostPort(n.ListenIP, strconv.Itoa(n.DiscoveryPort))); err != nil {
		e.listener.Stop()
		return err
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.listener.Serve(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.discovery.Serve(ctx)
	}()

	e.logger.Info().
		Str("connections", e.listener.Addr().String()).
		Str("discovery", e.discovery.Addr().String()).
		Msg("endpoint listening")
	return nil
}

// Wait blocks until the listeners started by Listen have stopped.
func (e *Endpoint) Wait() {
	e.wg.Wait()
}

// ConnectionAddr returns the bound connection listener address.
func (e *Endpoint) ConnectionAddr() net.Addr {
	return e.listener.Addr()
}

// DiscoveryAddr returns the bound discovery address.
func (e *Endpoint) DiscoveryAddr() net.Addr {
	return e.discovery.Addr()
}

// SelfTest probes the endpoint's own discovery socket over loopback.
func (e *Endpoint) SelfTest(ctx context.Context) error {
	addr := e.DiscoveryAddr()
	if addr == nil {
		return fmt.Errorf("self-test: endpoint is not listening")
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fmt.Errorf("self-test: %w", err)
	}

	session, err := QueryAdvertisement(ctx, net.JoinHostPort("127.0.0.1", port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("self-test failed: %w", err)
	}
	if session.NetworkID != e.networkID {
		return fmt.Errorf("self-test: answered by network id %d, want %d", session.NetworkID, e.networkID)
	}

	e.logger.Debug().Str("server_name", session.Advertisement.ServerName).Msg("discovery self-test passed")
	return nil
}
