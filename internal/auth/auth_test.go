package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "padded", header: "Bearer   abc123  ", want: "abc123"},
		{name: "missing", header: "", wantErr: ErrMissingHeader},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantErr: ErrBadScheme},
		{name: "no token", header: "Bearer    ", wantErr: ErrEmptyToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeMonitorRO}},
		{Token: "writer", Scopes: []string{" monitor:rw ", ""}},
	}

	p, ok := Authenticate("admin", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeEventsRO))

	p, ok = Authenticate("reader", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeMonitorRO))
	assert.False(t, HasAnyScope(p, ScopeMonitorRW))

	p, ok = Authenticate("writer", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeMonitorRO), "rw implies ro")
	assert.True(t, HasAnyScope(p, ScopeMonitorRW))
	assert.Len(t, p.Scopes, 2)

	_, ok = Authenticate("nobody", "admin", tokens)
	assert.False(t, ok)

	_, ok = Authenticate("", "", nil)
	assert.False(t, ok, "empty key never authenticates")
}

func TestHasAnyScopeNoRequirement(t *testing.T) {
	assert.True(t, HasAnyScope(Principal{}))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	want := Principal{Token: "x", Scopes: map[string]struct{}{ScopeEventsRO: {}}}
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
