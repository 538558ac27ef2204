package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rockerboo/mcp-analyzer-bridge/bridge"
)

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	return request
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, result.Content, 1)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	return content.Text
}

func TestStatusToolOnIdleBridge(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})

	result, err := handleAnalyzerStatus(b)(context.Background(), toolRequest("analyzer_status", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status bridge.Status
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &status))
	assert.False(t, status.Running)
	assert.Nil(t, status.Capabilities)
}

func TestListBackendsTool(t *testing.T) {
	result, err := handleListBackends()(context.Background(), toolRequest("list_backends", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var kinds []string
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &kinds))
	assert.Contains(t, kinds, "gopls")
	assert.Contains(t, kinds, "typescript")
}

func TestStartToolRejectsUnknownBackend(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})

	result, err := handleAnalyzerStart(b)(context.Background(), toolRequest("analyzer_start", map[string]any{
		"backend": "no-such-analyzer",
	}))
	require.NoError(t, err)

	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "unknown backend")
}

func TestStartToolRequiresBackendArgument(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})

	result, err := handleAnalyzerStart(b)(context.Background(), toolRequest("analyzer_start", nil))
	require.NoError(t, err)

	assert.True(t, result.IsError)
}

func TestDocumentToolsRejectIdleBridge(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})
	ctx := context.Background()

	result, err := handleOpenDocument(b)(ctx, toolRequest("open_document", map[string]any{
		"uri":         "file:///a.go",
		"language_id": "go",
		"text":        "package a",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "no active analyzer session")

	result, err = handleHover(b)(ctx, toolRequest("hover", map[string]any{
		"uri":       "file:///a.go",
		"line":      float64(1),
		"character": float64(2),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFeatureToolsRejectNegativePositions(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})

	result, err := handleHover(b)(context.Background(), toolRequest("hover", map[string]any{
		"uri":       "file:///a.go",
		"line":      float64(-1),
		"character": float64(0),
	}))
	require.NoError(t, err)

	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "non-negative")
}

func TestDiagnosticsToolOnIdleBridge(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})

	result, err := handleDiagnostics(b)(context.Background(), toolRequest("diagnostics", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.JSONEq(t, "{}", textContent(t, result))
}

func TestSetupMCPServerRegistersTools(t *testing.T) {
	b := bridge.NewAnalyzerBridge(nil, []string{t.TempDir()})
	s := SetupMCPServer(b)
	assert.NotNil(t, s)
}
