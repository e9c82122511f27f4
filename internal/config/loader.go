package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/vicebridge/internal/bridge"
	"github.com/mattjoyce/vicebridge/internal/dispatch"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file over Defaults(). A directory path loads the
// config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse interpolates ${VAR} references in data, decodes it over Defaults()
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file by checking standard locations:
// $VICEBRIDGE_CONFIG, ~/.config/vicebridge/config.yaml,
// /etc/vicebridge/config.yaml, ./config.yaml. An empty result with a nil
// error means none exists and Defaults() should be used.
func Discover() (string, error) {
	if p := os.Getenv("VICEBRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("VICEBRIDGE_CONFIG=%s: %w", p, err)
		}
		return p, nil
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "vicebridge", "config.yaml"))
	}
	candidates = append(candidates, "/etc/vicebridge/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// applyConfigDefaults refills fields a file explicitly emptied.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Monitor.Host == "" {
		cfg.Monitor.Host = defaults.Monitor.Host
	}
	if cfg.Monitor.Port == 0 {
		cfg.Monitor.Port = defaults.Monitor.Port
	}
	if cfg.History.Backlog == 0 {
		cfg.History.Backlog = defaults.History.Backlog
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaults.Metrics.Namespace
	}
	if cfg.LockDir == "" {
		cfg.LockDir = defaults.LockDir
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	check(validLogLevels[cfg.Service.LogLevel],
		"service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	validFormats := map[string]bool{"auto": true, "json": true, "text": true}
	check(validFormats[cfg.Service.LogFormat],
		"service.log_format must be one of: auto, json, text (got %q)", cfg.Service.LogFormat)

	check(cfg.Monitor.Port >= 1 && cfg.Monitor.Port <= 65535, "monitor.port must be 1-65535 (got %d)", cfg.Monitor.Port)
	check(!envVarPattern.MatchString(cfg.Monitor.Host), "monitor.host: %s", unresolved(cfg.Monitor.Host))
	check(cfg.Monitor.ResponseTimeout > 0, "monitor.response_timeout must be positive")
	check(cfg.Monitor.WriteTimeout > 0, "monitor.write_timeout must be positive")
	check(cfg.Monitor.DialTimeout > 0, "monitor.dial_timeout must be positive")
	check(cfg.Monitor.RetryBackoff > 0, "monitor.retry_backoff must be positive")
	check(cfg.Monitor.PortPollInterval > 0, "monitor.port_poll_interval must be positive")
	check(cfg.Monitor.StartupTimeout > 0, "monitor.startup_timeout must be positive")

	check(cfg.AutoResume.SettleDelay >= 0, "auto_resume.settle_delay must not be negative")
	check(cfg.AutoResume.ProbeInterval > 0, "auto_resume.probe_interval must be positive")

	if cfg.History.Enabled {
		check(cfg.History.Path != "", "history.path is required when history is enabled")
		check(!envVarPattern.MatchString(cfg.History.Path), "history.path: %s", unresolved(cfg.History.Path))
		check(cfg.History.Retention >= 0, "history.retention must not be negative")
		check(cfg.History.Retention == 0 || cfg.History.PruneInterval > 0,
			"history.prune_interval must be positive when retention is set")
		check(cfg.History.Backlog > 0, "history.backlog must be positive")
	}

	if cfg.API.Enabled {
		if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
			errs = append(errs, fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err))
		}
		check(cfg.API.Auth.APIKey != "" || len(cfg.API.Auth.Tokens) > 0,
			"api.auth requires api_key or at least one token when the API is enabled")
		check(!envVarPattern.MatchString(cfg.API.Auth.APIKey), "api.auth.api_key: %s", unresolved(cfg.API.Auth.APIKey))
		for i, tok := range cfg.API.Auth.Tokens {
			check(tok.Token != "", "api.auth.tokens[%d].token is required", i)
			check(!envVarPattern.MatchString(tok.Token), "api.auth.tokens[%d].token: %s", i, unresolved(tok.Token))
			check(len(tok.Scopes) > 0, "api.auth.tokens[%d].scopes must be non-empty", i)
		}
	}

	return errors.Join(errs...)
}

// unresolved names the first ${VAR} left in s.
func unresolved(s string) string {
	if m := envVarPattern.FindStringSubmatch(s); len(m) > 1 {
		return fmt.Sprintf("environment variable ${%s} is not set", m[1])
	}
	return "unresolved environment variable"
}

// BridgeConfig derives the connection manager settings.
func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		Host:             c.Monitor.Host,
		Port:             c.Monitor.Port,
		PortPollInterval: c.Monitor.PortPollInterval,
		RetryBackoff:     c.Monitor.RetryBackoff,
		DialTimeout:      c.Monitor.DialTimeout,
		Dispatch: dispatch.Config{
			ResponseTimeout: c.Monitor.ResponseTimeout,
			WriteTimeout:    c.Monitor.WriteTimeout,
			AutoResume: dispatch.AutoResumeConfig{
				Enabled:       c.AutoResume.Enabled,
				SettleDelay:   c.AutoResume.SettleDelay,
				ProbeInterval: c.AutoResume.ProbeInterval,
			},
		},
	}
}
