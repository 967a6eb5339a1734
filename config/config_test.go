package config

import (
	"flag"
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

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/courier.db
storage_secret: s3cret
backend:
  base_url: https://api.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Backend.RefreshTimeout)
	assert.Equal(t, 3*time.Second, cfg.Backend.HealthTimeout)
	assert.False(t, cfg.Backend.Insecure)
	assert.Equal(t, 180, cfg.Session.ExtendDays)
	assert.Equal(t, 150*time.Millisecond, cfg.Session.LogoutSettleDelay)
	assert.Equal(t, time.Second, cfg.Session.LogoutReleaseDelay)
}

func TestLoad_SecretFromEnv(t *testing.T) {
	t.Setenv("STORAGE_SECRET", "from-env")
	path := writeConfig(t, `
env: prod
storage_path: /tmp/courier.db
backend:
  base_url: https://api.example.com
  insecure: true
session:
  extend_days: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "from-env", cfg.StorageSecret)
	assert.True(t, cfg.Backend.Insecure)
	assert.Equal(t, 30, cfg.Session.ExtendDays)
}

func TestLoad_MissingRequired(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/courier.db
storage_secret: s3cret
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local.yaml")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.NotEmpty(t, cfg.StorageSecret)
	assert.True(t, cfg.Backend.Insecure)
}

func TestFetchConfigPath_RegisteredFlag(t *testing.T) {
	path := writeConfig(t, "env: local\n")

	if flag.Lookup("config") == nil {
		flag.String("config", "", "path to config file")
	}
	require.NoError(t, flag.Set("config", path))
	t.Cleanup(func() { _ = flag.Set("config", "") })

	assert.Equal(t, path, fetchConfigPath())
}

func TestFetchConfigPath_EnvFallback(t *testing.T) {
	if flag.Lookup("config") != nil {
		require.NoError(t, flag.Set("config", ""))
	}
	t.Setenv("CONFIG_PATH", "/etc/courier/prod.yaml")

	assert.Equal(t, "/etc/courier/prod.yaml", fetchConfigPath())
}
