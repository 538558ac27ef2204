// Package mcpserver exposes the analyzer bridge as MCP tools served over
// stdio. Tool handlers translate between tool arguments and bridge
// operations; no session or protocol logic lives here.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"rockerboo/mcp-analyzer-bridge/bridge"
)

const serverVersion = "1.0.0"

// SetupMCPServer builds the MCP server with every bridge tool registered
func SetupMCPServer(b *bridge.AnalyzerBridge) *server.MCPServer {
	s := server.NewMCPServer(
		"mcp-analyzer-bridge",
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	registerLifecycleTools(s, b)
	registerDocumentTools(s, b)
	registerFeatureTools(s, b)
	registerDiagnosticsTools(s, b)

	return s
}
