package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/energizer-project/beacon/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for values the endpoint cannot run with.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateAdvertisement(cfg.GetAdvertisement(), result)
	validateNetwork(&cfg.Network, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateDatabase(&cfg.Database, result)
	validateLogging(&cfg.Logging, result)

	return result
}

func validateAdvertisement(ad AdvertisementConfig, result *ValidationResult) {
	if n := len(ad.ServerName); n > protocol.MaxStringLength {
		result.AddError("advertisement.server_name",
			fmt.Sprintf("%d bytes exceeds the %d byte limit", n, protocol.MaxStringLength))
	} else if strings.TrimSpace(ad.ServerName) == "" {
		result.AddWarning("advertisement.server_name", "server name is empty")
	}

	if n := len(ad.LevelName); n > protocol.MaxStringLength {
		result.AddError("advertisement.level_name",
			fmt.Sprintf("%d bytes exceeds the %d byte limit", n, protocol.MaxStringLength))
	}

	if ad.MaxPlayerCount < 0 {
		result.AddError("advertisement.max_player_count", "must not be negative")
	} else if ad.MaxPlayerCount == 0 {
		result.AddWarning("advertisement.max_player_count", "session advertises no free slots")
	}
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if n.ListenIP != "" && net.ParseIP(n.ListenIP) == nil {
		result.AddError("network.listen_ip", fmt.Sprintf("invalid IP address: %s", n.ListenIP))
	}

	validatePort("network.connection_port", n.ConnectionPort, result)
	validatePort("network.discovery_port", n.DiscoveryPort, result)

	if n.ReadTimeoutSec < 1 {
		result.AddError("network.read_timeout_sec", "must be at least 1 second")
	}
	if n.StaleTimeoutSec > 0 && n.StaleTimeoutSec < n.ReadTimeoutSec {
		result.AddWarning("network.stale_timeout_sec", "shorter than read timeout; idle peers will be dropped early")
	}
	if n.DiscoveryRatePerSec < 1 {
		result.AddError("network.discovery_rate_per_sec", "must be at least 1")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort("api.port", a.Port, result)
	if a.RateLimitRPS < 1 {
		result.AddError("api.rate_limit_rps", "must be at least 1")
	}
	if a.Token == "" {
		result.AddWarning("api.token", "no API token set; control endpoints are unauthenticated")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "broker URL is required when MQTT is enabled")
	}
	validatePort("mqtt.port", m.Port, result)
	if (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
	}
}

func validateDatabase(d *DatabaseConfig, result *ValidationResult) {
	if !d.Enabled {
		return
	}
	if strings.TrimSpace(d.Path) == "" {
		result.AddError("database.path", "database path is required when storage is enabled")
	}
	if d.RetentionDays < 1 {
		result.AddWarning("database.retention_days", "history will never be pruned")
	}
}

func validatePort(field string, port int, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port: %d", port))
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	if l.Directory != "" && l.MaxBackups < 1 {
		result.AddWarning("logging.max_backups", "old log files will never be removed")
	}
}
