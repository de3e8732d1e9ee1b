// Beacon - session advertisement endpoint.
//
// Beacon runs a game session endpoint: it answers discovery probes with a
// fixed-layout binary advertisement describing the session, accepts peer
// connections, and exposes the session through a REST API, MQTT telemetry,
// a SQLite history and an interactive CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/api"
	"github.com/energizer-project/beacon/internal/cli"
	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/db"
	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/health"
	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/scheduler"
	"github.com/energizer-project/beacon/internal/server"
	"github.com/energizer-project/beacon/internal/telemetry"
	"github.com/energizer-project/beacon/internal/util"
)

const (
	AppName = "Beacon"
	Banner  = `
  ____                                
 | __ )  ___  __ _  ___ ___  _ __     
 |  _ \ / _ \/ _' |/ __/ _ \| '_ \    
 | |_) |  __/ (_| | (_| (_) | | | |   
 |____/ \___|\__,_|\___\___/|_| |_|  v%s
 Session Advertisement Endpoint
`
)

func main() {
	fmt.Printf(Banner, util.AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Beacon")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	endpoint, err := network.NewEndpoint(cfg, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create endpoint")
	}
	log.Info().Uint64("network_id", endpoint.NetworkID()).Msg("endpoint created")

	registerEndpointHandlers(eventBus)

	// Session history must subscribe before the first advertisement is set
	var history *db.HistoryStore
	if cfg.Database.Enabled {
		history, err = db.NewHistoryStore(cfg.Database.Path, endpoint.NetworkID())
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session history, history disabled")
		} else {
			history.Subscribe(eventBus)
		}
	}

	state, err := server.NewAdvertisementState(cfg.AdvertisementRecord(0), endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode the configured advertisement")
	}

	if err := startWithRetry(ctx, "endpoint", endpoint.Listen, 5); err != nil {
		log.Fatal().Err(err).Msg("failed to start endpoint")
	}

	// nil interfaces, not typed nil pointers, when history is disabled
	var (
		apiHistory   api.History
		cliHistory   cli.History
		schedHistory scheduler.Pruner
	)
	if history != nil {
		apiHistory, cliHistory, schedHistory = history, history, history
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, endpoint, state, apiHistory)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, endpoint.NetworkID())
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(eventBus, endpoint)
	sched := scheduler.NewScheduler(cfg, endpoint.Connections(), schedHistory)
	cliHandler := cli.NewCLI(eventBus, endpoint, state, cliHistory, cfg, os.Stdin, os.Stdout)

	var wg sync.WaitGroup

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// The CLI blocks on stdin, so it is not waited for on shutdown
	go func() {
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		if e.Source != "main" {
			quitOnce.Do(func() { close(quitCh) })
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from CLI")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		endpoint.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last so connection_closed events reach the history
	eventBus.Stop()

	if history != nil {
		if err := history.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session history")
		}
	}

	log.Info().Msg("Beacon stopped")
}

// registerEndpointHandlers logs the endpoint's connection notifications.
func registerEndpointHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventConnectionOpened, "main.connectionOpened", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.ConnectionOpenedPayload)
		log.Info().
			Uint64("connection_id", p.ConnectionID).
			Str("address", p.Address).
			Msg("connection opened")
		return nil
	})

	eventBus.Subscribe(events.EventConnectionClosed, "main.connectionClosed", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.ConnectionClosedPayload)
		log.Info().
			Uint64("connection_id", p.ConnectionID).
			Str("reason", string(p.Reason)).
			Msg("connection closed")
		return nil
	})

	eventBus.Subscribe(events.EventDataReceived, "main.dataReceived", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.DataReceivedPayload)
		log.Debug().
			Uint64("connection_id", p.ConnectionID).
			Int("length", len(p.Data)).
			Msg("data received")
		return nil
	})
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Uses a fixed 3-second interval between retries so sockets held by a
// previous process can be released.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
