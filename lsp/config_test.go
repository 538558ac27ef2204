package lsp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rockerboo/mcp-analyzer-bridge/types"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadBridgeConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "analyzer_config.json", `{
		"backends": {
			"gopls": {
				"command": "/usr/local/bin/gopls",
				"options": {"data_dir": "/tmp/cache"},
				"initialization_options": {"usePlaceholders": true}
			},
			"godot": {
				"transport": "socket",
				"host": "127.0.0.1",
				"port": 6005
			}
		},
		"global": {
			"log_file_path": "/tmp/analyzer-bridge.log",
			"log_level": "debug",
			"max_log_files": 3,
			"socket_settle_ms": 100
		}
	}`)

	config, err := LoadBridgeConfig(path, []string{dir})
	require.NoError(t, err)

	settings, ok := config.FindBackendSettings("gopls")
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin/gopls", settings.GetCommand())
	assert.Equal(t, map[string]string{"data_dir": "/tmp/cache"}, settings.GetOptions())
	assert.Equal(t, map[string]any{"usePlaceholders": true}, settings.GetInitializationOptions())

	socketSettings, ok := config.FindBackendSettings("godot")
	require.True(t, ok)
	assert.Equal(t, types.TransportSocket, socketSettings.GetTransport())
	assert.Equal(t, 6005, socketSettings.GetPort())

	assert.Equal(t, "debug", config.Global.LogLevel)
	assert.Equal(t, 100*time.Millisecond, config.SocketSettleDelay())

	_, ok = config.FindBackendSettings("fortran")
	assert.False(t, ok)
}

func TestLoadBridgeConfigMissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadBridgeConfig(filepath.Join(dir, "nope.json"), []string{dir})
	require.Error(t, err)
}

func TestLoadBridgeConfigMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "broken.json", `{"backends": [`)

	_, err := LoadBridgeConfig(path, []string{dir})
	require.Error(t, err)
}

func TestLoadBridgeConfigRejectsOutsidePath(t *testing.T) {
	allowed := t.TempDir()
	elsewhere := t.TempDir()
	path := writeConfig(t, elsewhere, "config.json", `{}`)

	_, err := LoadBridgeConfig(path, []string{allowed})
	require.Error(t, err)
}

func TestLoadBridgeConfigEmptyObject(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "empty.json", `{}`)

	config, err := LoadBridgeConfig(path, []string{dir})
	require.NoError(t, err)
	require.NotNil(t, config.Backends)
	assert.Equal(t, time.Duration(0), config.SocketSettleDelay())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ANALYZER_BRIDGE_LOG_LEVEL", "debug")
	t.Setenv("ANALYZER_BRIDGE_LOG_PATH", "/tmp/override.log")
	t.Setenv("ANALYZER_BRIDGE_SOCKET_SETTLE_MS", "250")

	var config BridgeConfig
	config.Global.LogLevel = "info"
	config.Global.LogPath = "/var/log/bridge.log"

	ApplyEnvOverrides(&config)

	assert.Equal(t, "debug", config.Global.LogLevel)
	assert.Equal(t, "/tmp/override.log", config.Global.LogPath)
	assert.Equal(t, 250, config.Global.SocketSettleMs)
}

func TestApplyEnvOverridesIgnoresInvalidSettle(t *testing.T) {
	t.Setenv("ANALYZER_BRIDGE_SOCKET_SETTLE_MS", "soon")

	var config BridgeConfig
	config.Global.SocketSettleMs = 50

	ApplyEnvOverrides(&config)

	assert.Equal(t, 50, config.Global.SocketSettleMs)
}
