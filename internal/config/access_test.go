package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "s3cret"
	cfg.API.Auth.Tokens = []APIToken{{Token: "tok", Scopes: []string{"monitor:ro"}}}

	tests := []struct {
		path string
		want any
	}{
		{"monitor.port", 6502},
		{"monitor.response_timeout", "5s"},
		{"auto_resume.enabled", true},
		{"api.auth.api_key", redacted},
		{"service.name", "vicebridge"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := cfg.GetPath("monitor.nope")
	assert.ErrorContains(t, err, `key "nope" not found`)
	_, err = cfg.GetPath("monitor.port.deeper")
	assert.ErrorContains(t, err, "not a map")
}

func TestRedactedLeavesOriginal(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "s3cret"
	cfg.API.Auth.Tokens = []APIToken{{Token: "tok", Scopes: []string{"events:ro"}}}

	r := cfg.Redacted()
	assert.Equal(t, redacted, r.API.Auth.APIKey)
	assert.Equal(t, redacted, r.API.Auth.Tokens[0].Token)
	assert.Equal(t, []string{"events:ro"}, r.API.Auth.Tokens[0].Scopes)
	assert.Equal(t, "s3cret", cfg.API.Auth.APIKey)
	assert.Equal(t, "tok", cfg.API.Auth.Tokens[0].Token)
}
