package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for BrewLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Demo      DemoConfig      `yaml:"demo"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig contains local-mode appliance connection settings.
type DeviceConfig struct {
	// Host is the appliance's address on the local network
	// (e.g., "brewos.local" or "192.168.1.40").
	Host string `yaml:"host"`

	// Port is the appliance's HTTP/WebSocket port.
	Port int `yaml:"port"`

	// TLS enables wss/https towards the appliance. Stock firmware serves
	// plain HTTP on port 80.
	TLS bool `yaml:"tls"`

	// WSPath is the WebSocket endpoint on the appliance.
	WSPath string `yaml:"ws_path"`

	// Reconnect controls the local transport's internal retry behaviour.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains exponential backoff settings for a transport's
// internal reconnection loop (seconds).
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// CloudConfig contains cloud-mode settings: the relay broker, the cloud
// REST API, and the OAuth2 endpoints used for login.
type CloudConfig struct {
	// APIBaseURL is the cloud service's REST API base
	// (e.g., "https://cloud.brewos.io").
	APIBaseURL string `yaml:"api_base_url"`

	Relay RelayConfig `yaml:"relay"`
	OAuth OAuthConfig `yaml:"oauth"`
}

// RelayConfig contains the cloud relay broker connection details.
// The relay carries device state and commands over per-device topics.
type RelayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// OAuthConfig contains the OAuth2 authorization-code flow endpoints for
// cloud login.
type OAuthConfig struct {
	ClientID    string   `yaml:"client_id"`
	AuthURL     string   `yaml:"auth_url"`
	TokenURL    string   `yaml:"token_url"`
	RedirectURL string   `yaml:"redirect_url"`
	Scopes      []string `yaml:"scopes"`
}

// DemoConfig contains demo-mode simulator settings.
type DemoConfig struct {
	// TickInterval is how often the simulator emits a fabricated state
	// snapshot (milliseconds).
	TickInterval int `yaml:"tick_interval"`
}

// ResolverConfig contains mode-resolution settings.
type ResolverConfig struct {
	// Timeout is the maximum time to wait for the appliance's mode
	// discovery endpoint before defaulting to cloud mode (seconds).
	Timeout int `yaml:"timeout"`

	// Strict makes registry invariant violations panic instead of
	// force-clearing. Intended for development builds.
	Strict bool `yaml:"strict"`
}

// DatabaseConfig contains SQLite settings for the local preferences store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TelemetryConfig contains InfluxDB settings for optional shot/reading
// telemetry recording.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local control API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses, and validates the configuration file at path.
//
// Environment variables override file values where supported, following
// the pattern BREWLINK_SECTION_KEY (e.g., BREWLINK_DEVICE_HOST).
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// Defaults target a stock BrewOS appliance on the local network with
// cloud and telemetry left unconfigured.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Host:   "brewos.local",
			Port:   80,
			WSPath: "/ws",
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Cloud: CloudConfig{
			Relay: RelayConfig{
				Port: 8883,
				TLS:  true,
				QoS:  1,
				Reconnect: ReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
		},
		Demo: DemoConfig{
			TickInterval: 1000,
		},
		Resolver: ResolverConfig{
			Timeout: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/brewlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8720,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BREWLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("BREWLINK_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("BREWLINK_DEVICE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = port
		}
	}

	// Cloud
	if v := os.Getenv("BREWLINK_CLOUD_API_BASE_URL"); v != "" {
		cfg.Cloud.APIBaseURL = v
	}
	if v := os.Getenv("BREWLINK_CLOUD_RELAY_HOST"); v != "" {
		cfg.Cloud.Relay.Host = v
	}
	if v := os.Getenv("BREWLINK_CLOUD_OAUTH_CLIENT_ID"); v != "" {
		cfg.Cloud.OAuth.ClientID = v
	}

	// Database
	if v := os.Getenv("BREWLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Telemetry
	if v := os.Getenv("BREWLINK_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// API
	if v := os.Getenv("BREWLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Host == "" {
		errs = append(errs, "device.host is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Device.WSPath, "/") {
		errs = append(errs, "device.ws_path must start with /")
	}

	// Relay validation
	if c.Cloud.Relay.QoS < 0 || c.Cloud.Relay.QoS > 2 {
		errs = append(errs, "cloud.relay.qos must be 0, 1, or 2")
	}

	// Resolver validation
	if c.Resolver.Timeout < 1 {
		errs = append(errs, "resolver.timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Telemetry validation (only when enabled)
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			errs = append(errs, "telemetry.bucket is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceBaseURL returns the appliance's HTTP base URL (e.g., "http://brewos.local:80").
func (c *Config) DeviceBaseURL() string {
	scheme := "http"
	if c.Device.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Device.Host, c.Device.Port)
}

// DeviceWSURL returns the appliance's WebSocket URL (e.g., "ws://brewos.local:80/ws").
func (c *Config) DeviceWSURL() string {
	scheme := "ws"
	if c.Device.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, c.Device.Host, c.Device.Port, c.Device.WSPath)
}

// ResolverTimeout returns the mode-resolution timeout as a Duration.
func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.Timeout) * time.Second
}

// DemoTickInterval returns the simulator tick interval as a Duration.
func (c *Config) DemoTickInterval() time.Duration {
	return time.Duration(c.Demo.TickInterval) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
