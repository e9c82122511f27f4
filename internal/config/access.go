package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Redacted returns a copy with bearer tokens masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redacted
	}
	out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, t := range c.API.Auth.Tokens {
		out.API.Auth.Tokens[i] = APIToken{Token: redacted, Scopes: append([]string(nil), t.Scopes...)}
	}
	return &out
}

// GetPath retrieves a value using a dot-notation path over the YAML keys,
// e.g. "monitor.port". Secrets are returned redacted.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
