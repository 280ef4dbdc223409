package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirrorhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: mirrorhost-dev
  log_level: DEBUG
  state_dir: /tmp/mirrorhost
worker:
  command: uv
  args: [run, python, -m, narrative_mirror.cli_json]
  dir: ../backend
  db_path: data/mirror.db
  config_path: config.yml
api:
  enabled: true
  listen: 127.0.0.1:9000
  api_key: secret
history:
  path: /tmp/mirrorhost/journal.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mirrorhost-dev", cfg.Service.Name)
	assert.Equal(t, "DEBUG", cfg.Service.LogLevel)
	assert.Equal(t, []string{"run", "python", "-m", "narrative_mirror.cli_json"}, cfg.Worker.Args)
	assert.Equal(t, "../backend", cfg.Worker.Dir)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
	assert.Equal(t, "/tmp/mirrorhost/journal.db", cfg.History.Path)
	assert.Equal(t, "/tmp/mirrorhost/mirrorhost.pid", cfg.PIDLockPath())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "service: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mirrorhost", cfg.Service.Name)
	assert.Equal(t, "INFO", cfg.Service.LogLevel)
	assert.Equal(t, "uv", cfg.Worker.Command)
	assert.Equal(t, "data/mirror.db", cfg.Worker.DBPath)
	assert.Equal(t, "config.yml", cfg.Worker.ConfigPath)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, filepath.Join("state", "history.db"), cfg.History.Path)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MIRROR_DB", "/data/custom.db")
	path := writeConfig(t, `
worker:
  db_path: ${MIRROR_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/custom.db", cfg.Worker.DBPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "worker: [not a mapping\n")
	_, err := Load(path)
	require.Error(t, err)
}
