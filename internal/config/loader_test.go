package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file yields defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Defaults(), cfg)
			},
		},
		{
			name: "monitor overrides",
			yaml: `
monitor:
  host: 10.0.0.5
  port: 6510
  response_timeout: 250ms
auto_resume:
  enabled: false
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "10.0.0.5", cfg.Monitor.Host)
				assert.Equal(t, 6510, cfg.Monitor.Port)
				assert.Equal(t, 250*time.Millisecond, cfg.Monitor.ResponseTimeout)
				assert.Equal(t, 5*time.Second, cfg.Monitor.WriteTimeout, "unset fields keep defaults")
				assert.False(t, cfg.AutoResume.Enabled)
				assert.Equal(t, 50*time.Millisecond, cfg.AutoResume.ProbeInterval)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
monitor:
  host: ${VICE_HOST}
  port: ${VICE_PORT}
history:
  enabled: true
  path: ${HISTORY_DB}
`,
			env: map[string]string{
				"VICE_HOST":  "emu.local",
				"VICE_PORT":  "6503",
				"HISTORY_DB": "/var/lib/vicebridge/history.db",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "emu.local", cfg.Monitor.Host)
				assert.Equal(t, 6503, cfg.Monitor.Port)
				assert.Equal(t, "/var/lib/vicebridge/history.db", cfg.History.Path)
			},
		},
		{
			name: "explicit empty values are refilled",
			yaml: `
service:
  log_level: ""
monitor:
  host: ""
  port: 0
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, "127.0.0.1", cfg.Monitor.Host)
				assert.Equal(t, 6502, cfg.Monitor.Port)
			},
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: verbose\n",
			wantErr: "service.log_level",
		},
		{
			name:    "port out of range",
			yaml:    "monitor:\n  port: 70000\n",
			wantErr: "monitor.port",
		},
		{
			name:    "negative timeout",
			yaml:    "monitor:\n  response_timeout: -1s\n",
			wantErr: "monitor.response_timeout",
		},
		{
			name:    "unresolved env var in api key",
			yaml:    "api:\n  enabled: true\n  auth:\n    api_key: ${VICEBRIDGE_TEST_UNSET_KEY}\n",
			wantErr: "${VICEBRIDGE_TEST_UNSET_KEY} is not set",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n  listen: 127.0.0.1:9000\n",
			wantErr: "api.auth requires",
		},
		{
			name:    "token without scopes",
			yaml:    "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n",
			wantErr: "api.auth.tokens[0].scopes",
		},
		{
			name:    "history without path",
			yaml:    "history:\n  enabled: true\n  path: \"\"\n",
			wantErr: "history.path is required",
		},
		{
			name:    "malformed yaml",
			yaml:    "monitor: [\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := writeConfig(t, "monitor:\n  port: 6600\n")
	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, 6600, cfg.Monitor.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Monitor.Port = -1
	cfg.Monitor.RetryBackoff = 0
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.port")
	assert.Contains(t, err.Error(), "monitor.retry_backoff")
}

func TestDiscoverPrefersEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("VICEBRIDGE_CONFIG", path)

	got, err := Discover()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDiscoverEnvMissing(t *testing.T) {
	t.Setenv("VICEBRIDGE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Discover()
	assert.Error(t, err)
}

func TestBridgeConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Monitor.Port = 6510
	cfg.Monitor.ResponseTimeout = time.Second
	cfg.AutoResume.Enabled = false

	bc := cfg.BridgeConfig()
	assert.Equal(t, "127.0.0.1", bc.Host)
	assert.Equal(t, 6510, bc.Port)
	assert.Equal(t, 500*time.Millisecond, bc.PortPollInterval)
	assert.Equal(t, time.Second, bc.Dispatch.ResponseTimeout)
	assert.Equal(t, 5*time.Second, bc.Dispatch.WriteTimeout)
	assert.False(t, bc.Dispatch.AutoResume.Enabled)
	assert.Equal(t, 20*time.Millisecond, bc.Dispatch.AutoResume.SettleDelay)
}
