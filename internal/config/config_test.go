package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 5*time.Minute, cfg.Retry.Delay)
	assert.Equal(t, 24*time.Hour, cfg.Retry.MaxAge())
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.Realtime.StaleTimeout)
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.True(t, cfg.Channels.InApp.Enabled)
	assert.False(t, cfg.Channels.Email.Enabled)
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Prefs.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Worker.ClaimTTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yml := `
server:
  port: 9090
channels:
  sms:
    enabled: true
email:
  provider: postmark
retry:
  attempts: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))

	t.Setenv("NOTIFY_RETENTION_DAYS", "30")
	t.Setenv("NOTIFY_POSTMARK_SERVER_TOKEN", "pm-token")
	t.Setenv("NOTIFY_JWT_SECRET", "s3cret")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Channels.SMS.Enabled)
	assert.Equal(t, "postmark", cfg.Email.Provider)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "pm-token", cfg.Email.ServerToken)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	bad := *cfg
	bad.Realtime.StaleTimeout = bad.Realtime.HeartbeatInterval
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Channels.Email.Enabled = true
	bad.Email.Provider = "carrier-pigeon"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Database.Driver = "sqlite"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Delivery.MaxWorkers = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Worker.ClaimTTL = 0
	assert.Error(t, bad.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
