// Package config handles configuration loading, validation, and persistence
// for Beacon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/protocol"
)

const (
	DefaultConfigDir      = "config"
	DefaultConfigFile     = "beacon.json"
	DefaultDiscoveryPort  = 7551
	DefaultConnectionPort = 7552
	DefaultAPIPort        = 5080
)

// Config is the root configuration structure for Beacon.
type Config struct {
	mu   sync.RWMutex
	path string

	Advertisement AdvertisementConfig `json:"advertisement"`
	Network       NetworkConfig       `json:"network"`
	API           APIConfig           `json:"api"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Database      DatabaseConfig      `json:"database"`
	Logging       LoggingConfig       `json:"logging"`
}

// AdvertisementConfig holds the static fields of the advertised session.
// The live player count is tracked by the running endpoint, not here.
type AdvertisementConfig struct {
	Version        uint8  `json:"version"`
	ServerName     string `json:"server_name"`
	LevelName      string `json:"level_name"`
	GameType       int32  `json:"game_type"`
	MaxPlayerCount int32  `json:"max_player_count"`
	EditorWorld    bool   `json:"editor_world"`
	Hardcore       bool   `json:"hardcore"`
	TransportLayer int32  `json:"transport_layer"`
}

// NetworkConfig holds listener settings for the endpoint.
type NetworkConfig struct {
	ListenIP            string `json:"listen_ip"`
	ConnectionPort      int    `json:"connection_port"`
	DiscoveryPort       int    `json:"discovery_port"`
	ReadTimeoutSec      int    `json:"read_timeout_sec"`
	StaleTimeoutSec     int    `json:"stale_timeout_sec"`
	DiscoveryRatePerSec int    `json:"discovery_rate_per_sec"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds session history storage settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults. The
// advertisement defaults describe the stock test session.
func DefaultConfig() *Config {
	return &Config{
		Advertisement: AdvertisementConfig{
			Version:        1,
			ServerName:     "NetherNet Test Server",
			LevelName:      "Test World",
			GameType:       protocol.GameTypeCreative,
			MaxPlayerCount: 10,
			TransportLayer: 2,
		},
		Network: NetworkConfig{
			ListenIP:            "0.0.0.0",
			ConnectionPort:      DefaultConnectionPort,
			DiscoveryPort:       DefaultDiscoveryPort,
			ReadTimeoutSec:      60,
			StaleTimeoutSec:     300,
			DiscoveryRatePerSec: 50,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "beacon",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "beacon.db"),
			RetentionDays: 14,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file in configDir, overlaying it on
// the defaults. A missing file is not an error and nothing is written.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	log.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to disk. Nothing else writes the
// file; Load never creates it.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetAdvertisement returns a copy of the advertisement configuration.
func (c *Config) GetAdvertisement() AdvertisementConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Advertisement
}

// SaveAdvertisement stores the static fields of ad as the configured
// advertisement and writes the config file. The player count is not kept.
func (c *Config) SaveAdvertisement(ad protocol.Advertisement) error {
	c.mu.Lock()
	c.Advertisement = AdvertisementConfig{
		Version:        ad.Version,
		ServerName:     ad.ServerName,
		LevelName:      ad.LevelName,
		GameType:       ad.GameType,
		MaxPlayerCount: ad.MaxPlayerCount,
		EditorWorld:    ad.EditorWorld,
		Hardcore:       ad.Hardcore,
		TransportLayer: ad.TransportLayer,
	}
	c.mu.Unlock()

	return c.Save()
}

// AdvertisementRecord builds the wire record for the configured session.
func (c *Config) AdvertisementRecord(playerCount int32) protocol.Advertisement {
	ad := c.GetAdvertisement()
	return protocol.Advertisement{
		Version:        ad.Version,
		ServerName:     ad.ServerName,
		LevelName:      ad.LevelName,
		GameType:       ad.GameType,
		PlayerCount:    playerCount,
		MaxPlayerCount: ad.MaxPlayerCount,
		EditorWorld:    ad.EditorWorld,
		Hardcore:       ad.Hardcore,
		TransportLayer: ad.TransportLayer,
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
