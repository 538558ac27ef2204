package lsp

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rockerboo/mcp-analyzer-bridge/types"
)

func TestResolveKnownBackend(t *testing.T) {
	cfg, err := ResolveBackend("gopls", nil)
	require.NoError(t, err)
	assert.Equal(t, types.TransportStdio, cfg.Kind)
	assert.Equal(t, "gopls", cfg.Command)
	assert.Empty(t, cfg.Args)
}

func TestResolveUnknownBackend(t *testing.T) {
	_, err := ResolveBackend("cobol", nil)
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestResolveBackendRequiredOption(t *testing.T) {
	_, err := ResolveBackend("csharp", nil)
	require.ErrorIs(t, err, ErrMissingOption)

	cfg, err := ResolveBackend("csharp", map[string]string{"solution": "app.sln"})
	require.NoError(t, err)
	assert.Equal(t, "omnisharp", cfg.Command)
	assert.Equal(t, []string{"-lsp", "-s", "app.sln"}, cfg.Args)
}

func TestResolveBackendOptionalOption(t *testing.T) {
	cfg, err := ResolveBackend("java", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Args)

	cfg, err = ResolveBackend("java", map[string]string{"data_dir": "/tmp/jdtls"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-data", "/tmp/jdtls"}, cfg.Args)
}

func TestBslPresetSpawnsJarOverStdio(t *testing.T) {
	_, err := ResolveBackend("bsl", nil)
	require.ErrorIs(t, err, ErrMissingOption)

	cfg, err := ResolveBackend("bsl", map[string]string{"server_path": "/opt/bsl-ls.jar"})
	require.NoError(t, err)
	assert.Equal(t, types.TransportStdio, cfg.Kind)
	assert.Equal(t, "java", cfg.Command)
	assert.Equal(t, []string{"-jar", "/opt/bsl-ls.jar"}, cfg.Args)
}

func TestGodotPresetAttachesOverSocket(t *testing.T) {
	cfg, err := ResolveBackend("godot", nil)
	require.NoError(t, err)
	assert.Equal(t, types.TransportSocket, cfg.Kind)
	assert.Empty(t, cfg.Command)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 6005, cfg.Port)
}

func TestRegisterBackendValidation(t *testing.T) {
	require.Error(t, RegisterBackend("", stdioPreset("x")))
	require.Error(t, RegisterBackend("something", nil))

	require.NoError(t, RegisterBackend("register-test", stdioPreset("x")))
	require.Error(t, RegisterBackend("register-test", stdioPreset("x")))
}

func TestRegisteredBackendsSorted(t *testing.T) {
	kinds := RegisteredBackends()

	assert.True(t, sort.SliceIsSorted(kinds, func(i, j int) bool { return kinds[i] < kinds[j] }))
	assert.Contains(t, kinds, types.BackendKind("gopls"))
	assert.Contains(t, kinds, types.BackendKind("godot"))
	assert.Contains(t, kinds, types.BackendKind("rust-analyzer"))
}
