// Package telemetry publishes endpoint activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicConnection    = "connection"
	TopicAdvertisement = "advertisement"
	TopicStatus        = "status"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. networkID is added to
// the metadata of every message.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, networkID uint64) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("telemetry"),
		metadata: map[string]interface{}{
			"hostname":   sysInfo.Hostname,
			"platform":   sysInfo.Platform,
			"cpu_model":  sysInfo.CPUModel,
			"cpu_cores":  sysInfo.CPUCores,
			"memory_mb":  sysInfo.TotalMemory,
			"version":    util.AppVersion,
			"network_id": networkID,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(mqttCfg))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("beacon-%s-%d", sysInfo.Hostname, networkID))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

func brokerURL(c config.MQTTConfig) string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerURL, c.Port)
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: load client certificate
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicStatus, map[string]interface{}{"event": "started"})

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventConnectionOpened, "mqtt.connectionOpened", h.onConnectionOpened)
	h.eventBus.Subscribe(events.EventConnectionClosed, "mqtt.connectionClosed", h.onConnectionClosed)
	h.eventBus.Subscribe(events.EventAdvertisementChanged, "mqtt.advertisementChanged", h.onAdvertisementChanged)
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.onHeartbeat)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventConnectionOpened, "mqtt.connectionOpened")
	h.eventBus.Unsubscribe(events.EventConnectionClosed, "mqtt.connectionClosed")
	h.eventBus.Unsubscribe(events.EventAdvertisementChanged, "mqtt.advertisementChanged")
	h.eventBus.Unsubscribe(events.EventHeartbeat, "mqtt.heartbeat")
}

// Topic returns the full topic name for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	topic := h.Topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// advertisementMessage describes an advertisement buffer. The decoded record
// is omitted when the buffer does not decode.
func advertisementMessage(buf []byte) map[string]interface{} {
	msg := map[string]interface{}{
		"length": len(buf),
		"hex":    hex.EncodeToString(buf),
	}
	if ad, _, err := protocol.Decode(buf); err == nil {
		msg["advertisement"] = ad
	} else {
		msg["decode_error"] = err.Error()
	}
	return msg
}

// Event handlers

func (h *MQTTHandler) onConnectionOpened(ctx context.Context, event events.Event) error {
	h.publish(TopicConnection, map[string]interface{}{
		"event":   "opened",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onConnectionClosed(ctx context.Context, event events.Event) error {
	h.publish(TopicConnection, map[string]interface{}{
		"event":   "closed",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onAdvertisementChanged(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.AdvertisementChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	h.publish(TopicAdvertisement, advertisementMessage(p.Advertisement))
	return nil
}

func (h *MQTTHandler) onHeartbeat(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, map[string]interface{}{
		"event":   "heartbeat",
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicStatus, map[string]interface{}{
		"event": "shutdown",
	})
}
