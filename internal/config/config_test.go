package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, PolicySourceEmbedded, cfg.Policy.Source)
	assert.Equal(t, "authz:permission_changes", cfg.Events.Channel)
	assert.Equal(t, 32, cfg.Events.Shards)
	assert.False(t, cfg.Authz.DepartmentLocationVisibility)
	assert.False(t, cfg.Auth.KeycloakEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("AUTHZ_CACHE_TTL", "30s")
	t.Setenv("AUTHZ_DEPARTMENT_LOCATION_VISIBILITY", "true")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("POLICY_SOURCE", "S3")
	t.Setenv("POLICY_S3_BUCKET", "policies")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Authz.CacheTTL)
	assert.True(t, cfg.Authz.DepartmentLocationVisibility)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, PolicySourceS3, cfg.Policy.Source)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"file policy without path", map[string]string{"POLICY_SOURCE": "file"}},
		{"unknown policy source", map[string]string{"POLICY_SOURCE": "ftp"}},
		{"git policy without url", map[string]string{"POLICY_SOURCE": "git"}},
		{"half s3 credentials", map[string]string{"POLICY_SOURCE": "s3", "POLICY_S3_BUCKET": "b", "POLICY_S3_ACCESS_KEY_ID": "AKIA"}},
		{"zero shards", map[string]string{"EVENTS_SHARDS": "0"}},
		{"sample ratio", map[string]string{"OTEL_SAMPLE_RATIO": "2"}},
		{"production without secret", map[string]string{"APP_ENV": "production"}},
		{"keycloak without issuer", map[string]string{"KEYCLOAK_JWKS_URL": "https://sso.example.org/certs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a ,, b ", ","))
	assert.Empty(t, splitAndTrim("", ","))
}
