package bridge

import (
	"encoding/json"
	"sync"

	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/types"
	"rockerboo/mcp-analyzer-bridge/utils"
)

// session is one live analyzer connection plus its identity. The bridge
// owns exactly zero or one of these at any time.
type session struct {
	kind   types.BackendKind
	id     string
	client types.AnalyzerClient
}

// clientFactory builds the analyzer client for a resolved transport config.
// Swapped for a mock factory in tests.
type clientFactory func(cfg lsp.TransportConfig, opts ...lsp.ClientOption) types.AnalyzerClient

// AnalyzerBridge coordinates a single analyzer session behind the MCP and
// daemon call surfaces. Lifecycle transitions and the session slot are
// guarded by one mutex: a second start blocks until the first settles, then
// fails the running check instead of racing a second transport into life.
type AnalyzerBridge struct {
	config             types.BridgeConfigProvider
	allowedDirectories []string
	pathMapper         *utils.WorkspacePathMapper

	newClient clientFactory

	mu      sync.Mutex
	session *session

	diagnostics *diagnosticsBuffer
}

// Status is the bridge's self-description: whether a session is live, which
// backend it runs, and the capability snapshot from the handshake.
type Status struct {
	Running      bool              `json:"running"`
	Backend      types.BackendKind `json:"backend,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	Capabilities json.RawMessage   `json:"capabilities,omitempty"`
}
