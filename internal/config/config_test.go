package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: facegate
  user: facegate
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "onnx", cfg.Vision.Provider)
	assert.InDelta(t, 0.6, cfg.Match.Threshold, 1e-9)
	assert.InDelta(t, 50.0, cfg.Match.NearMissCap, 1e-9)
	assert.InDelta(t, 0.70, cfg.Training.AcceptThreshold, 1e-9)
	assert.Equal(t, 400, cfg.Training.Epochs)
	assert.Equal(t, 5*time.Minute, cfg.Training.CacheRefresh)
	assert.Equal(t, 10, cfg.Stream.MaxConcurrent)
	assert.Equal(t, "match", cfg.Stream.Mode)
	assert.Equal(t, 10*time.Second, cfg.Stream.FetchTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
match:
  threshold: 0.4
stream:
  max_concurrent: 3
  mode: classifier
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.InDelta(t, 0.4, cfg.Match.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Stream.MaxConcurrent)
	assert.Equal(t, "classifier", cfg.Stream.Mode)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FACEGATE_SERVER_PORT", "7070")
	t.Setenv("FACEGATE_DB_HOST", "db.internal")
	t.Setenv("FACEGATE_API_KEY", "sekrit")
	t.Setenv("FACEGATE_STREAM_MAX_CONCURRENT", "5")

	path := writeConfig(t, `
server:
  port: 8080
database:
  host: localhost
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)
	assert.Equal(t, 5, cfg.Stream.MaxConcurrent)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "n", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
