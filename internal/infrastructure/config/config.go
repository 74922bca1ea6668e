package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/sessiond/internal/shared/paths"
)

// EnvPrefix prefixes every environment override, e.g. SESSIOND_IPC_MAX_CONNECTIONS.
const EnvPrefix = "SESSIOND"

// Config holds all daemon configuration.
type Config struct {
	Daemon   DaemonConfig  `yaml:"daemon"`
	IPC      IPCConfig     `yaml:"ipc"`
	Sessions SessionConfig `yaml:"sessions"`
	SSH      SSHConfig     `yaml:"ssh"`
	Serial   SerialConfig  `yaml:"serial"`
	HTTP     HTTPConfig    `yaml:"http"`
	Logging  LogConfig     `yaml:"logging"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	SocketPath          string        `yaml:"socket_path" split_words:"true"`
	ShutdownGrace       time.Duration `yaml:"shutdown_grace" split_words:"true"`
	TerminateOnShutdown bool          `yaml:"terminate_on_shutdown" split_words:"true"`
}

// IPCConfig holds local-socket hardening limits.
type IPCConfig struct {
	MaxConnections    int `yaml:"max_connections" split_words:"true"`
	MaxMessageSize    int `yaml:"max_message_size" split_words:"true"`
	RequestsPerSecond int `yaml:"requests_per_second" split_words:"true"`
	Burst             int `yaml:"burst"`
}

// SessionConfig holds session lifecycle and output settings.
type SessionConfig struct {
	ReapInterval time.Duration `yaml:"reap_interval" split_words:"true"`
	ReapGrace    time.Duration `yaml:"reap_grace" split_words:"true"`
	OutputBuffer int           `yaml:"output_buffer" split_words:"true"`
	HistoryBytes int           `yaml:"history_bytes" split_words:"true"`
	DefaultShell string        `yaml:"default_shell" split_words:"true"`
	DefaultCols  int           `yaml:"default_cols" split_words:"true"`
	DefaultRows  int           `yaml:"default_rows" split_words:"true"`
}

// SSHConfig holds SSH transport settings.
type SSHConfig struct {
	KnownHosts    string        `yaml:"known_hosts" split_words:"true"`
	IdentityFiles []string      `yaml:"identity_files" split_words:"true"`
	DefaultUser   string        `yaml:"default_user" split_words:"true"`
	DialTimeout   time.Duration `yaml:"dial_timeout" split_words:"true"`
	UseAgent      bool          `yaml:"use_agent" split_words:"true"`

	// Consecutive connect failures before a host is skipped for FailureCooldown
	FailureThreshold int           `yaml:"failure_threshold" split_words:"true"`
	FailureCooldown  time.Duration `yaml:"failure_cooldown" split_words:"true"`
}

// SerialConfig holds serial line settings.
type SerialConfig struct {
	DefaultBaud int `yaml:"default_baud" split_words:"true"`
}

// HTTPConfig holds the local HTTP gateway settings.
type HTTPConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins" split_words:"true"`
	// Per-client request rate for the REST routes; 0 disables limiting
	RequestsPerSecond int `yaml:"requests_per_second" split_words:"true"`
	Burst             int `yaml:"burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns default configuration.
func Default() *Config {
	user := os.Getenv("USER")
	return &Config{
		Daemon: DaemonConfig{
			SocketPath:          paths.SocketPath(),
			ShutdownGrace:       5 * time.Second,
			TerminateOnShutdown: false,
		},
		IPC: IPCConfig{
			MaxConnections:    100,
			MaxMessageSize:    1024 * 1024,
			RequestsPerSecond: 200,
			Burst:             400,
		},
		Sessions: SessionConfig{
			ReapInterval: 60 * time.Second,
			ReapGrace:    5 * time.Second,
			OutputBuffer: 256,
			HistoryBytes: 256 * 1024,
			DefaultCols:  80,
			DefaultRows:  24,
		},
		SSH: SSHConfig{
			KnownHosts:    paths.KnownHostsFile(),
			IdentityFiles: paths.DefaultIdentityFiles(),
			DefaultUser:   user,
			DialTimeout:   10 * time.Second,
			UseAgent:      true,

			FailureThreshold: 3,
			FailureCooldown:  30 * time.Second,
		},
		Serial: SerialConfig{
			DefaultBaud: 115200,
		},
		HTTP: HTTPConfig{
			Enabled:           true,
			Addr:              "127.0.0.1:3030",
			AllowOrigins:      []string{"http://localhost", "http://127.0.0.1"},
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// SESSIOND_* environment variables, in increasing precedence. An empty
// path falls back to SESSIOND_CONFIG and then the default location; a
// missing file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = paths.ConfigFile()
	}

	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on any failure.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Daemon.SocketPath == "":
		return errors.New("daemon.socket_path must be set")
	case c.Daemon.ShutdownGrace < 0:
		return errors.New("daemon.shutdown_grace must not be negative")
	case c.IPC.MaxConnections <= 0:
		return errors.New("ipc.max_connections must be positive")
	case c.IPC.MaxMessageSize <= 0:
		return errors.New("ipc.max_message_size must be positive")
	case c.IPC.RequestsPerSecond <= 0 || c.IPC.Burst <= 0:
		return errors.New("ipc.requests_per_second and ipc.burst must be positive")
	case c.Sessions.ReapInterval <= 0:
		return errors.New("sessions.reap_interval must be positive")
	case c.Sessions.ReapGrace < 0:
		return errors.New("sessions.reap_grace must not be negative")
	case c.Sessions.OutputBuffer <= 0:
		return errors.New("sessions.output_buffer must be positive")
	case c.Sessions.HistoryBytes < 0:
		return errors.New("sessions.history_bytes must not be negative")
	case c.Sessions.DefaultCols <= 0 || c.Sessions.DefaultRows <= 0:
		return errors.New("sessions.default_cols and sessions.default_rows must be positive")
	case c.Serial.DefaultBaud <= 0:
		return errors.New("serial.default_baud must be positive")
	case c.HTTP.Enabled && c.HTTP.Addr == "":
		return errors.New("http.addr must be set when the gateway is enabled")
	}
	return nil
}
