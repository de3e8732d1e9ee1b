// Package health runs periodic checks on the running endpoint: a discovery
// self-test over loopback and host resource usage, summarized in a
// heartbeat event.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/util"
)

const (
	selfTestInterval  = 5 * time.Minute
	resourceInterval  = time.Minute
	heartbeatInterval = 30 * time.Second

	cpuWarnPercent    = 90
	memoryWarnPercent = 90
)

// Endpoint is the part of the running endpoint the checks need.
type Endpoint interface {
	SelfTest(ctx context.Context) error
	Connections() *network.ConnectionRegistry
}

// Manager runs periodic health checks.
type Manager struct {
	eventBus  *events.EventBus
	endpoint  Endpoint
	startedAt time.Time
	logger    zerolog.Logger

	mu               sync.RWMutex
	discoveryHealthy bool
	cpuPercent       float64
	memoryPercent    float64
}

// NewManager creates a new health check manager.
func NewManager(eventBus *events.EventBus, endpoint Endpoint) *Manager {
	return &Manager{
		eventBus:  eventBus,
		endpoint:  endpoint,
		startedAt: time.Now(),
		logger:    util.ComponentLogger("health"),
	}
}

// Start launches all health check goroutines and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"discovery_self_test", selfTestInterval, m.checkDiscovery},
		{"resource_usage", resourceInterval, m.checkResources},
		{"heartbeat", heartbeatInterval, m.emitHeartbeat},
	}

	for _, check := range checks {
		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", len(checks)).Msg("health check manager started")

	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// checkDiscovery probes the endpoint's own discovery socket.
func (m *Manager) checkDiscovery(ctx context.Context) {
	err := m.endpoint.SelfTest(ctx)

	m.mu.Lock()
	wasHealthy := m.discoveryHealthy
	m.discoveryHealthy = err == nil
	m.mu.Unlock()

	switch {
	case err != nil && ctx.Err() == nil:
		m.logger.Warn().Err(err).Msg("discovery self-test failed")
	case err == nil && !wasHealthy:
		m.logger.Info().Msg("discovery self-test passed")
	}
}

// checkResources samples CPU and memory usage and warns above thresholds.
func (m *Manager) checkResources(ctx context.Context) {
	cpuPercent, err := util.GetCPUUsage()
	if err != nil {
		m.logger.Debug().Err(err).Msg("CPU usage unavailable")
	}
	var memPercent float64
	if mem, err := util.GetMemoryUsage(); err == nil {
		memPercent = mem.UsedPercent
	} else {
		m.logger.Debug().Err(err).Msg("memory usage unavailable")
	}

	m.mu.Lock()
	m.cpuPercent = cpuPercent
	m.memoryPercent = memPercent
	m.mu.Unlock()

	if cpuPercent >= cpuWarnPercent {
		m.logger.Warn().Float64("cpu_percent", cpuPercent).Msg("high CPU usage")
	}
	if memPercent >= memoryWarnPercent {
		m.logger.Warn().Float64("memory_percent", memPercent).Msg("high memory usage")
	}
}

// Heartbeat returns the current summary.
func (m *Manager) Heartbeat() events.HeartbeatPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return events.HeartbeatPayload{
		Connections:      m.endpoint.Connections().Count(),
		UptimeSec:        int64(time.Since(m.startedAt).Seconds()),
		CPUPercent:       m.cpuPercent,
		MemoryPercent:    m.memoryPercent,
		DiscoveryHealthy: m.discoveryHealthy,
	}
}

func (m *Manager) emitHeartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health_check",
		Payload: m.Heartbeat(),
	})
}
