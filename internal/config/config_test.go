package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:4200", cfg.Server.CORSOrigin)
	assert.Equal(t, "64M", cfg.Server.BodyLimit)
	assert.Equal(t, "uploads", cfg.Uploads.Dir)
	assert.Equal(t, 10, cfg.Agent.MemorySize)
	assert.Equal(t, 5, cfg.Agent.PreviewRows)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Exec.Enabled)
	assert.Equal(t, ":memory:", cfg.DatabaseURL)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
llm:
  provider: ollama
  timeout: 30s
exec:
  enabled: true
`), 0o644))

	t.Setenv("DATAQUERY_SERVER_PORT", "9100")
	t.Setenv("DATAQUERY_AGENT_MEMORY_SIZE", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Exec.Enabled)
	assert.Equal(t, 3, cfg.Agent.MemorySize)
	assert.Equal(t, "0.0.0.0:9100", cfg.Server.Addr())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Chdir(t.TempDir())
	t.Setenv("DATAQUERY_LOG_FORMAT", "xml")
	_, err = Load("")
	assert.Error(t, err)
}
