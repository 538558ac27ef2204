package lsp

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/security"
	"rockerboo/mcp-analyzer-bridge/types"
)

// BackendSettings overrides parts of a backend preset from configuration.
// Zero values mean "use the preset's default".
type BackendSettings struct {
	Command               string              `json:"command,omitempty"`
	Args                  []string            `json:"args,omitempty"`
	WorkingDir            string              `json:"working_dir,omitempty"`
	Transport             types.TransportKind `json:"transport,omitempty"`
	Host                  string              `json:"host,omitempty"`
	Port                  int                 `json:"port,omitempty"`
	Options               map[string]string   `json:"options,omitempty"`
	InitializationOptions map[string]any      `json:"initialization_options,omitempty"`
}

func (s *BackendSettings) GetCommand() string { return s.Command }

func (s *BackendSettings) GetArgs() []string { return s.Args }

func (s *BackendSettings) GetWorkingDir() string { return s.WorkingDir }

func (s *BackendSettings) GetTransport() types.TransportKind { return s.Transport }

func (s *BackendSettings) GetHost() string { return s.Host }

func (s *BackendSettings) GetPort() int { return s.Port }

func (s *BackendSettings) GetOptions() map[string]string { return s.Options }

func (s *BackendSettings) GetInitializationOptions() map[string]any { return s.InitializationOptions }

// BridgeConfig is the file-backed configuration: per-backend overrides plus
// global logging and transport settings.
type BridgeConfig struct {
	Backends map[types.BackendKind]BackendSettings `json:"backends"`
	Global   struct {
		LogPath        string `json:"log_file_path"`
		LogLevel       string `json:"log_level"`
		MaxLogFiles    int    `json:"max_log_files"`
		SocketSettleMs int    `json:"socket_settle_ms"`
	} `json:"global"`
}

// LoadBridgeConfig reads and parses a configuration file. The path must
// resolve inside one of the allowed directories.
func LoadBridgeConfig(path string, allowedDirs []string) (*BridgeConfig, error) {
	validated, err := security.ValidateConfigPath(path, allowedDirs)
	if err != nil {
		return nil, fmt.Errorf("config path rejected: %w", err)
	}

	data, err := os.ReadFile(validated)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BridgeConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Backends == nil {
		config.Backends = make(map[types.BackendKind]BackendSettings)
	}

	return &config, nil
}

// FindBackendSettings returns the configured overrides for a backend
func (c *BridgeConfig) FindBackendSettings(kind types.BackendKind) (types.BackendSettingsProvider, bool) {
	settings, ok := c.Backends[kind]
	if !ok {
		return nil, false
	}

	return &settings, true
}

// SocketSettleDelay converts the configured settle time. Zero means the
// transport default applies.
func (c *BridgeConfig) SocketSettleDelay() time.Duration {
	return time.Duration(c.Global.SocketSettleMs) * time.Millisecond
}

// ApplyEnvOverrides lets the environment take precedence over file values
func ApplyEnvOverrides(config *BridgeConfig) {
	if v := os.Getenv("ANALYZER_BRIDGE_LOG_LEVEL"); v != "" {
		config.Global.LogLevel = v
	}

	if v := os.Getenv("ANALYZER_BRIDGE_LOG_PATH"); v != "" {
		config.Global.LogPath = v
	}

	if v := os.Getenv("ANALYZER_BRIDGE_SOCKET_SETTLE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			logger.Warn(fmt.Sprintf("ignoring invalid ANALYZER_BRIDGE_SOCKET_SETTLE_MS %q", v))
		} else {
			config.Global.SocketSettleMs = ms
		}
	}
}
