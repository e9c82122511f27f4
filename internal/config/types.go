package config

import "time"

// Config represents the complete vicebridge configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	AutoResume AutoResumeConfig `yaml:"auto_resume"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LockDir    string           `yaml:"lock_dir"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MonitorConfig describes how to reach the VICE binary monitor.
type MonitorConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	PortPollInterval time.Duration `yaml:"port_poll_interval"`
	// StartupTimeout bounds how long `vicebridge ping` waits for a session.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// AutoResumeConfig controls the check run after each successful command
// that resumes an emulator left paused by the monitor.
type AutoResumeConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// HistoryConfig defines the message history database.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	Backlog       int           `yaml:"backlog"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// MetricsConfig defines the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "vicebridge",
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Monitor: MonitorConfig{
			Host:             "127.0.0.1",
			Port:             6502,
			ResponseTimeout:  5 * time.Second,
			WriteTimeout:     5 * time.Second,
			DialTimeout:      2 * time.Second,
			RetryBackoff:     time.Second,
			PortPollInterval: 500 * time.Millisecond,
			StartupTimeout:   10 * time.Second,
		},
		AutoResume: AutoResumeConfig{
			Enabled:       true,
			SettleDelay:   20 * time.Millisecond,
			ProbeInterval: 50 * time.Millisecond,
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/history.db",
			Retention:     24 * time.Hour,
			PruneInterval: time.Hour,
			Backlog:       1024,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8650",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "vicebridge",
		},
		LockDir: "./data",
	}
}
