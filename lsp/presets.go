package lsp

import (
	"fmt"
	"sort"
	"sync"

	"rockerboo/mcp-analyzer-bridge/types"
)

// PresetFunc builds the transport config for one backend kind. Options come
// from configuration merged with per-call options; presets that need one
// should use requireOption.
type PresetFunc func(options map[string]string) (TransportConfig, error)

var (
	presetsMu sync.RWMutex
	presets   = make(map[types.BackendKind]PresetFunc)
)

// RegisterBackend adds a backend preset to the registry. Registering an
// empty kind, a nil preset, or a duplicate kind is an error.
func RegisterBackend(kind types.BackendKind, preset PresetFunc) error {
	if kind == "" {
		return fmt.Errorf("backend kind must not be empty")
	}
	if preset == nil {
		return fmt.Errorf("backend %s: preset must not be nil", kind)
	}

	presetsMu.Lock()
	defer presetsMu.Unlock()

	if _, ok := presets[kind]; ok {
		return fmt.Errorf("backend %s already registered", kind)
	}

	presets[kind] = preset

	return nil
}

// RegisteredBackends lists every known backend kind, sorted
func RegisteredBackends() []types.BackendKind {
	presetsMu.RLock()
	defer presetsMu.RUnlock()

	kinds := make([]types.BackendKind, 0, len(presets))
	for kind := range presets {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// ResolveBackend runs a kind's preset against the given options
func ResolveBackend(kind types.BackendKind, options map[string]string) (TransportConfig, error) {
	presetsMu.RLock()
	preset, ok := presets[kind]
	presetsMu.RUnlock()

	if !ok {
		return TransportConfig{}, fmt.Errorf("%w: %s", ErrUnknownBackend, kind)
	}

	return preset(options)
}

func requireOption(kind types.BackendKind, options map[string]string, key string) (string, error) {
	if v := options[key]; v != "" {
		return v, nil
	}

	return "", fmt.Errorf("%w: %s requires option %q", ErrMissingOption, kind, key)
}

// stdioPreset covers the common case of a subprocess speaking the protocol
// on its stdin/stdout.
func stdioPreset(command string, args ...string) PresetFunc {
	return func(map[string]string) (TransportConfig, error) {
		return TransportConfig{
			Kind:    types.TransportStdio,
			Command: command,
			Args:    args,
		}, nil
	}
}

func mustRegister(kind types.BackendKind, preset PresetFunc) {
	if err := RegisterBackend(kind, preset); err != nil {
		panic(err)
	}
}

func init() {
	mustRegister("gopls", stdioPreset("gopls"))
	mustRegister("rust-analyzer", stdioPreset("rust-analyzer"))
	mustRegister("typescript", stdioPreset("typescript-language-server", "--stdio"))
	mustRegister("pylsp", stdioPreset("pylsp"))
	mustRegister("pyright", stdioPreset("pyright-langserver", "--stdio"))
	mustRegister("clangd", stdioPreset("clangd", "--background-index"))
	mustRegister("lua", stdioPreset("lua-language-server"))
	mustRegister("bash", stdioPreset("bash-language-server", "start"))
	mustRegister("yaml", stdioPreset("yaml-language-server", "--stdio"))
	mustRegister("json", stdioPreset("vscode-json-language-server", "--stdio"))
	mustRegister("ruby", stdioPreset("solargraph", "stdio"))
	mustRegister("php", stdioPreset("intelephense", "--stdio"))
	mustRegister("deno", stdioPreset("deno", "lsp"))

	// jdtls wants a persistent workspace data directory when given one
	mustRegister("java", func(options map[string]string) (TransportConfig, error) {
		cfg := TransportConfig{Kind: types.TransportStdio, Command: "jdtls"}
		if dataDir := options["data_dir"]; dataDir != "" {
			cfg.Args = []string{"-data", dataDir}
		}

		return cfg, nil
	})

	// omnisharp needs to know which solution to load
	mustRegister("csharp", func(options map[string]string) (TransportConfig, error) {
		solution, err := requireOption("csharp", options, "solution")
		if err != nil {
			return TransportConfig{}, err
		}

		return TransportConfig{
			Kind:    types.TransportStdio,
			Command: "omnisharp",
			Args:    []string{"-lsp", "-s", solution},
		}, nil
	})

	// The BSL analyzer ships as a jar
	mustRegister("bsl", func(options map[string]string) (TransportConfig, error) {
		serverPath, err := requireOption("bsl", options, "server_path")
		if err != nil {
			return TransportConfig{}, err
		}

		return TransportConfig{
			Kind:    types.TransportStdio,
			Command: "java",
			Args:    []string{"-jar", serverPath},
		}, nil
	})

	// The Godot editor hosts its analyzer itself; we only attach
	mustRegister("godot", func(map[string]string) (TransportConfig, error) {
		return TransportConfig{
			Kind: types.TransportSocket,
			Host: "127.0.0.1",
			Port: 6005,
		}, nil
	})
}
