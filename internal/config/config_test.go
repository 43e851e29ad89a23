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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutBase)
	assert.Equal(t, 6, cfg.Auth.OTPLength)
	assert.Equal(t, 3, cfg.Dispatch.ConflictRetries)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: memory
auth:
  lockout_threshold: 3
  otp_ttl: 2m
logging:
  level: debug
`), 0o600))

	t.Setenv("AGORA_DISPATCH_CONFLICT_RETRIES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.True(t, cfg.Database.IsEmbedded())
	assert.Equal(t, 3, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Dispatch.ConflictRetries)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without host", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.Host = "" }},
		{"redis lock without redis", func(c *Config) { c.Lock.Backend = "redis"; c.Redis.Enabled = false }},
		{"redis sink without redis", func(c *Config) { c.Notify.Sink = "redis"; c.Redis.Enabled = false }},
		{"zero threshold", func(c *Config) { c.Auth.LockoutThreshold = 0 }},
		{"base above max", func(c *Config) { c.Auth.LockoutBase = 48 * time.Hour }},
		{"short otp", func(c *Config) { c.Auth.OTPLength = 2 }},
		{"zero suspension", func(c *Config) { c.Auth.SuspensionDuration = 0 }},
		{"negative retries", func(c *Config) { c.Dispatch.ConflictRetries = -1 }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o600))

	assert.Panics(t, func() { MustLoad(path) })
}
