package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix starts every environment override.
const envPrefix = "EMBEDDED_VAULT_"

// Config is the root configuration structure for embedded-vault.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// VaultConfig describes the server to launch and how to supervise it.
type VaultConfig struct {
	// Version is the release to run. Default: "0.10.1"
	Version string `yaml:"version"`

	// Executable skips artifact resolution and runs this binary directly.
	Executable string `yaml:"executable,omitempty"`

	// ListenerHost is the listen address. Default: "127.0.0.1"
	ListenerHost string `yaml:"listener_host"`

	// ListenerPort is the listen port. Default: 8200
	ListenerPort int `yaml:"listener_port"`

	// RandomPort picks a free port and ignores ListenerPort.
	RandomPort bool `yaml:"random_port"`

	// RootTokenID is the dev root token. Empty means a random UUID.
	RootTokenID string `yaml:"root_token_id,omitempty"`

	// LogLevel is the server's own log level: trace, debug, info, warn, err.
	LogLevel string `yaml:"log_level"`

	ClusterName     string `yaml:"cluster_name"`
	DefaultLeaseTTL string `yaml:"default_lease_ttl"`
	MaxLeaseTTL     string `yaml:"max_lease_ttl"`

	// StartupTimeout bounds the wait for the ready marker. Default: 60s
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// GracefulTimeout is how long stop waits before killing. Default: 5s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// KillTimeout bounds the wait after a kill. Default: 10s
	KillTimeout time.Duration `yaml:"kill_timeout"`

	// FailureExitGrace is how long a failed start waits for the process to
	// exit by itself. Default: 2s
	FailureExitGrace time.Duration `yaml:"failure_exit_grace"`

	// ConfirmListener dials the listener after the ready marker.
	ConfirmListener bool `yaml:"confirm_listener"`
}

// ArtifactsConfig controls downloading and caching of server binaries.
type ArtifactsConfig struct {
	// BaseURL is the release download root.
	BaseURL string `yaml:"base_url"`

	// StoreDir holds downloads, extracted executables and the index.
	// Default: ~/.embedded-vault
	StoreDir string `yaml:"store_dir"`

	// UserAgent is sent with every download request.
	UserAgent string `yaml:"user_agent"`

	// VerifyChecksums checks archives against the published SHA256SUMS.
	VerifyChecksums bool `yaml:"verify_checksums"`

	// DownloadTimeout bounds a single archive download. Default: 5m
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// DatabaseConfig contains SQLite settings for the artifact index.
type DatabaseConfig struct {
	// Path of the index database. Empty means <store_dir>/index.db.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// ExposeSecrets includes the root token and unseal key in responses.
	ExposeSecrets bool `yaml:"expose_secrets"`

	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig holds HTTP server timeouts, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HistoryConfig controls the lifecycle event journal kept in the index database.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retain is how many events are kept; older ones are pruned on shutdown.
	// Zero keeps everything.
	Retain int `yaml:"retain"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMBEDDED_VAULT_SECTION_KEY
// For example: EMBEDDED_VAULT_VAULT_VERSION, EMBEDDED_VAULT_ARTIFACTS_STORE_DIR
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with defaults and no file or environment applied.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			Version:          "0.10.1",
			ListenerHost:     "127.0.0.1",
			ListenerPort:     8200,
			LogLevel:         "info",
			ClusterName:      "dev",
			DefaultLeaseTTL:  "768h",
			MaxLeaseTTL:      "768h",
			StartupTimeout:   60 * time.Second,
			GracefulTimeout:  5 * time.Second,
			KillTimeout:      10 * time.Second,
			FailureExitGrace: 2 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			BaseURL:         "https://releases.hashicorp.com/vault/",
			StoreDir:        "~/.embedded-vault",
			UserAgent:       "Mozilla/5.0 (compatible; Embedded Vault; +https://github.com/golovnin/embedded-vault)",
			VerifyChecksums: true,
			DownloadTimeout: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "embedded-vault",
			},
			QoS:         1,
			TopicPrefix: "embedded-vault",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "embedded-vault",
			Bucket:        "embedded-vault",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8290,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  120,
			},
		},
		History: HistoryConfig{
			Enabled: true,
			Retain:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EMBEDDED_VAULT_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"VAULT_VERSION":       &cfg.Vault.Version,
		"VAULT_EXECUTABLE":    &cfg.Vault.Executable,
		"VAULT_LISTENER_HOST": &cfg.Vault.ListenerHost,
		"VAULT_ROOT_TOKEN_ID": &cfg.Vault.RootTokenID,
		"VAULT_LOG_LEVEL":     &cfg.Vault.LogLevel,
		"ARTIFACTS_BASE_URL":  &cfg.Artifacts.BaseURL,
		"ARTIFACTS_STORE_DIR": &cfg.Artifacts.StoreDir,
		"DATABASE_PATH":       &cfg.Database.Path,
		"MQTT_HOST":           &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":       &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":       &cfg.MQTT.Auth.Password,
		"INFLUXDB_URL":        &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":      &cfg.InfluxDB.Token,
		"API_HOST":            &cfg.API.Host,
		"LOG_LEVEL":           &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	var errs []string
	ints := map[string]*int{
		"VAULT_LISTENER_PORT": &cfg.Vault.ListenerPort,
		"MQTT_PORT":           &cfg.MQTT.Broker.Port,
		"API_PORT":            &cfg.API.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				continue
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"VAULT_RANDOM_PORT":          &cfg.Vault.RandomPort,
		"VAULT_CONFIRM_LISTENER":     &cfg.Vault.ConfirmListener,
		"ARTIFACTS_VERIFY_CHECKSUMS": &cfg.Artifacts.VerifyChecksums,
		"MQTT_ENABLED":               &cfg.MQTT.Enabled,
		"INFLUXDB_ENABLED":           &cfg.InfluxDB.Enabled,
		"API_ENABLED":                &cfg.API.Enabled,
		"HISTORY_ENABLED":            &cfg.History.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				continue
			}
			*dst = b
		}
	}

	if v := os.Getenv(envPrefix + "VAULT_STARTUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sVAULT_STARTUP_TIMEOUT: %v", envPrefix, err))
		} else {
			cfg.Vault.StartupTimeout = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// resolvePaths expands a leading ~ in the store directory and derives the
// index path.
func (c *Config) resolvePaths() {
	c.Artifacts.StoreDir = ExpandHome(c.Artifacts.StoreDir)
	if c.Database.Path == "" && c.Artifacts.StoreDir != "" {
		c.Database.Path = filepath.Join(c.Artifacts.StoreDir, "index.db")
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Vault validation
	if c.Vault.Version == "" {
		errs = append(errs, "vault.version is required")
	}
	if c.Vault.ListenerHost == "" {
		errs = append(errs, "vault.listener_host is required")
	}
	if !c.Vault.RandomPort && (c.Vault.ListenerPort < 0 || c.Vault.ListenerPort > 65535) {
		errs = append(errs, "vault.listener_port must be between 0 and 65535")
	}
	switch strings.ToLower(c.Vault.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "err", "error":
	default:
		errs = append(errs, "vault.log_level must be one of trace, debug, info, warn, err")
	}
	if c.Vault.StartupTimeout <= 0 {
		errs = append(errs, "vault.startup_timeout must be positive")
	}
	if c.Vault.GracefulTimeout < 0 || c.Vault.KillTimeout < 0 || c.Vault.FailureExitGrace < 0 {
		errs = append(errs, "vault stop timeouts must not be negative")
	}

	// Artifacts validation
	if c.Vault.Executable == "" {
		if c.Artifacts.BaseURL == "" {
			errs = append(errs, "artifacts.base_url is required")
		}
		if c.Artifacts.StoreDir == "" {
			errs = append(errs, "artifacts.store_dir is required")
		}
	}

	// MQTT validation
	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Host == "" {
			errs = append(errs, "api.host is required when the api is enabled")
		}
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
	}

	if c.History.Retain < 0 {
		errs = append(errs, "history.retain must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
