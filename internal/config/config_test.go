package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv("OPSDESK_DATABASE__URL", "postgres://localhost:5432/opsdesk")
	t.Setenv("OPSDESK_JWT__SECRET_KEY", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenDuration)
	assert.Equal(t, "opsdesk", cfg.JWT.Issuer)
	assert.Equal(t, float64(1), cfg.RateLimit.LoginRPS)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9999"
database:
  url: postgres://db:5432/opsdesk
  max_open_conns: 10
log:
  level: debug
  format: text
jwt:
  secret_key: file-secret
  access_token_duration: 30m
notifications:
  enabled: true
  email:
    enabled: true
    smtp_host: mail.example.com
    from_address: OpsDesk <noreply@example.com>
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTokenDuration)
	assert.True(t, cfg.Notifications.Email.Enabled)
	assert.Equal(t, "mail.example.com", cfg.Notifications.Email.SMTPHost)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9999"
database:
  url: postgres://db:5432/opsdesk
jwt:
  secret_key: file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("OPSDESK_SERVER__PORT", "7777")
	t.Setenv("OPSDESK_JWT__SECRET_KEY", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.JWT.SecretKey)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("OPSDESK_JWT__SECRET_KEY", "test-secret")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("OPSDESK_DATABASE__URL", "postgres://localhost:5432/opsdesk")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret_key")
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	t.Setenv("OPSDESK_DATABASE__URL", "postgres://localhost:5432/opsdesk")
	t.Setenv("OPSDESK_JWT__SECRET_KEY", "test-secret")
	t.Setenv("OPSDESK_LOG__FORMAT", "xml")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	t.Setenv("OPSDESK_DATABASE__URL", "postgres://localhost:5432/opsdesk")
	t.Setenv("OPSDESK_JWT__SECRET_KEY", "test-secret")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "test-secret", cfg.JWT.SecretKey)
}
