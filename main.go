// Copyright 2025 Dave Lage (rockerBOO)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"rockerboo/mcp-analyzer-bridge/bridge"
	"rockerboo/mcp-analyzer-bridge/directories"
	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/mcpserver"
	"rockerboo/mcp-analyzer-bridge/security"
	"rockerboo/mcp-analyzer-bridge/utils"

	"github.com/mark3labs/mcp-go/server"
)

// tryLoadConfig attempts to load configuration from multiple locations with
// security validation
func tryLoadConfig(primaryPath, configDir string, allowedDirectories ...[]string) (*lsp.BridgeConfig, error) {
	var configAllowedDirectories []string

	if len(allowedDirectories) > 0 {
		configAllowedDirectories = allowedDirectories[0]
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}

		configAllowedDirectories = security.GetConfigAllowedDirectories(configDir, cwd)
	}

	// Try primary path first (from command line or default)
	if config, err := lsp.LoadBridgeConfig(primaryPath, configAllowedDirectories); err == nil {
		return config, nil
	}

	fallbackPaths := []string{
		"analyzer_config.json",                  // Current directory
		filepath.Join(configDir, "config.json"), // Alternative name in config dir
		"analyzer_config.example.json",          // Example config in current dir
	}

	for _, fallbackPath := range fallbackPaths {
		if fallbackPath == primaryPath {
			continue
		}

		if config, err := lsp.LoadBridgeConfig(fallbackPath, configAllowedDirectories); err == nil {
			fmt.Fprintf(os.Stderr, "INFO: Loaded configuration from fallback location: %s\n", fallbackPath)
			return config, nil
		}
	}

	return nil, errors.New("no valid configuration found")
}

// validateCommandLineArgs validates command line arguments for security
func validateCommandLineArgs(confPath, logPath, configDir, logDir string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	if confPath != "" {
		configAllowedDirs := security.GetConfigAllowedDirectories(configDir, cwd)
		if _, err := security.ValidateConfigPath(confPath, configAllowedDirs); err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
	}

	if logPath != "" {
		logAllowedDirs := []string{logDir, cwd, "."}
		if _, err := security.ValidateConfigPath(logPath, logAllowedDirs); err != nil {
			return fmt.Errorf("invalid log path: %w", err)
		}
	}

	return nil
}

func main() {
	dirResolver := directories.NewDirectoryResolver("mcp-analyzer-bridge", directories.DefaultUserProvider{}, directories.DefaultEnvProvider{}, true)

	configDir, err := dirResolver.GetConfigDirectory()
	if err != nil {
		log.Fatalf("Failed to get config directory: %v", err)
	}

	logDir, err := dirResolver.GetLogDirectory()
	if err != nil {
		log.Fatalf("Failed to get log directory: %v", err)
	}

	defaultConfigPath := filepath.Join(configDir, "analyzer_config.json")
	defaultLogPath := filepath.Join(logDir, "mcp-analyzer-bridge.log")

	var confPath string

	var logPath string

	var logLevel string

	flag.StringVar(&confPath, "config", defaultConfigPath, "Path to analyzer configuration file")
	flag.StringVar(&confPath, "c", defaultConfigPath, "Path to analyzer configuration file (short)")
	flag.StringVar(&logPath, "log-path", "", "Path to log file (overrides config and default)")
	flag.StringVar(&logPath, "l", "", "Path to log file (short)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	if err := validateCommandLineArgs(confPath, logPath, configDir, logDir); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid command line arguments: %v\n", err)
		os.Exit(1)
	}

	config, err := tryLoadConfig(confPath, configDir)
	if err != nil {
		// The bridge still works without a config file: presets run with
		// their defaults and sessions are started through the tools.
		fmt.Fprintf(os.Stderr, "NOTICE: No configuration file found (%v), using preset defaults.\n", err)

		config = &lsp.BridgeConfig{}
		config.Global.LogPath = defaultLogPath
		config.Global.LogLevel = "info"
		config.Global.MaxLogFiles = 10
	}

	// Allow runtime tuning from outside (e.g. via MCP client env blocks)
	// without editing config files.
	lsp.ApplyEnvOverrides(config)

	logConfig := logger.LoggerConfig{
		LogPath:     config.Global.LogPath,
		LogLevel:    config.Global.LogLevel,
		MaxLogFiles: config.Global.MaxLogFiles,
	}

	if logPath != "" {
		logConfig.LogPath = logPath
	}

	if logLevel != "" {
		logConfig.LogLevel = logLevel
	}

	// Stdout carries the MCP stream, so file logging is the default
	if logConfig.LogPath == "" {
		logConfig.LogPath = defaultLogPath
	}

	if err := logger.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting MCP analyzer bridge...")

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to get current working directory: %v", err))
		os.Exit(1)
	}

	// In container mode workspace operations anchor to the mounted
	// workspace root, not to the process CWD.
	allowedDirs := []string{cwd}
	if workspaceRoot := os.Getenv("WORKSPACE_ROOT"); workspaceRoot != "" {
		allowedDirs = []string{workspaceRoot}
	}

	bridgeInstance := bridge.NewAnalyzerBridge(config, allowedDirs)
	defer bridgeInstance.StopSession()

	if mapper, err := utils.NewWorkspacePathMapperFromEnv(); err != nil {
		logger.Warn(fmt.Sprintf("Workspace path mapping disabled: %v", err))
	} else if mapper.IsEnabled() {
		logger.Info(fmt.Sprintf("Mapping workspace paths %s -> %s", mapper.LocalRoot(), mapper.AnalyzerRoot()))
		bridgeInstance.SetPathMapper(mapper)
	}

	mcpServer := mcpserver.SetupMCPServer(bridgeInstance)

	logger.Info("Starting MCP server on stdio...")

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error("MCP server error: " + err.Error())
	}
}
