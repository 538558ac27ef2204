// Package types holds the shared vocabulary between the bridge, the lsp
// client and the configuration layer.
package types

import (
	"context"
	"encoding/json"
	"time"

	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
)

// BackendKind identifies one analyzer backend preset (e.g. "gopls")
type BackendKind string

// TransportKind selects how the analyzer process is reached
type TransportKind string

const (
	// TransportStdio frames messages over the spawned process's stdin/stdout
	TransportStdio TransportKind = "stdio"
	// TransportSocket frames messages over a TCP connection to the analyzer
	TransportSocket TransportKind = "socket"
)

// DiagnosticsHandler receives one diagnostics publish. The payload replaces
// anything previously published for the URI.
type DiagnosticsHandler func(uri string, diagnostics []protocol.Diagnostic)

// AnalyzerClient is the connection surface the bridge consumes. Implemented
// by lsp.Client and by test mocks.
type AnalyzerClient interface {
	Start(ctx context.Context, rootURI string, workspaceFolders []protocol.WorkspaceFolder) error
	Stop()
	ServerCapabilities() json.RawMessage
	OnDiagnostics(handler DiagnosticsHandler)

	OpenDocument(uri, languageID, text string) error
	ChangeDocument(uri, text string) error
	CloseDocument(uri string) error
	NotifyWatchedFiles(changes []protocol.FileEvent) error

	Completion(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error)
	Hover(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error)
	Definition(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error)
	References(ctx context.Context, uri string, line, character uint32, includeDeclaration bool) (json.RawMessage, error)
	DocumentSymbols(ctx context.Context, uri string) (json.RawMessage, error)
}

// BackendSettingsProvider exposes the per-backend configuration overrides
// consumed when a session is resolved
type BackendSettingsProvider interface {
	GetCommand() string
	GetArgs() []string
	GetWorkingDir() string
	GetTransport() TransportKind
	GetHost() string
	GetPort() int
	GetOptions() map[string]string
	GetInitializationOptions() map[string]any
}

// BridgeConfigProvider is the configuration surface the bridge needs
type BridgeConfigProvider interface {
	FindBackendSettings(kind BackendKind) (BackendSettingsProvider, bool)
	SocketSettleDelay() time.Duration
}
