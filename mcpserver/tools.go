package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"rockerboo/mcp-analyzer-bridge/bridge"
	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/types"
)

// rawToolResult hands an analyzer's raw response straight to the tool
// caller. An absent result renders as null, matching the wire.
func rawToolResult(raw json.RawMessage) *mcp.CallToolResult {
	if len(raw) == 0 {
		return mcp.NewToolResultText("null")
	}

	return mcp.NewToolResultText(string(raw))
}

func jsonToolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

// position pulls the uri/line/character triple shared by every feature tool
func position(request mcp.CallToolRequest) (string, uint32, uint32, error) {
	uri, err := request.RequireString("uri")
	if err != nil {
		return "", 0, 0, err
	}

	line, err := request.RequireInt("line")
	if err != nil {
		return "", 0, 0, err
	}

	character, err := request.RequireInt("character")
	if err != nil {
		return "", 0, 0, err
	}

	if line < 0 || character < 0 {
		return "", 0, 0, fmt.Errorf("line and character must be non-negative")
	}

	return uri, uint32(line), uint32(character), nil
}

// backendOptions reads the optional options object of analyzer_start
func backendOptions(request mcp.CallToolRequest) map[string]string {
	raw, ok := request.GetArguments()["options"].(map[string]any)
	if !ok {
		return nil
	}

	options := make(map[string]string, len(raw))

	for key, value := range raw {
		if s, ok := value.(string); ok {
			options[key] = s
		}
	}

	return options
}

func registerLifecycleTools(s *server.MCPServer, b *bridge.AnalyzerBridge) {
	s.AddTool(mcp.NewTool("analyzer_start",
		mcp.WithDescription("Start an analyzer backend session. Only one session can be active at a time."),
		mcp.WithString("backend", mcp.Required(), mcp.Description("Backend kind, e.g. gopls or rust-analyzer. See list_backends.")),
		mcp.WithObject("options", mcp.Description("Backend-specific options, e.g. {\"solution\": \"app.sln\"} for csharp.")),
	), handleAnalyzerStart(b))

	s.AddTool(mcp.NewTool("analyzer_stop",
		mcp.WithDescription("Stop the active analyzer session. No-op when idle."),
	), handleAnalyzerStop(b))

	s.AddTool(mcp.NewTool("analyzer_status",
		mcp.WithDescription("Report whether a session is running, its backend, and the server capabilities."),
	), handleAnalyzerStatus(b))

	s.AddTool(mcp.NewTool("list_backends",
		mcp.WithDescription("List every registered analyzer backend kind."),
	), handleListBackends())
}

func handleAnalyzerStart(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := request.RequireString("backend")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		status, err := b.StartSession(ctx, types.BackendKind(kind), backendOptions(request))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonToolResult(status)
	}
}

func handleAnalyzerStop(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b.StopSession()
		return jsonToolResult(b.Status())
	}
}

func handleAnalyzerStatus(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonToolResult(b.Status())
	}
}

func handleListBackends() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonToolResult(lsp.RegisteredBackends())
	}
}

func registerDocumentTools(s *server.MCPServer, b *bridge.AnalyzerBridge) {
	s.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Open a document in the active session. Re-opening an open URI replaces it at version 1."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI, e.g. file:///src/main.go")),
		mcp.WithString("language_id", mcp.Required(), mcp.Description("Language identifier, e.g. go or typescript")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full document text")),
	), handleOpenDocument(b))

	s.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Replace the full text of an open document, bumping its version by one."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New full document text")),
	), handleUpdateDocument(b))

	s.AddTool(mcp.NewTool("close_document",
		mcp.WithDescription("Close an open document and drop its tracked record."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI")),
	), handleCloseDocument(b))
}

func handleOpenDocument(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, err := request.RequireString("uri")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		languageID, err := request.RequireString("language_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		text, err := request.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := b.OpenDocument(uri, languageID, text); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("opened %s", uri)), nil
	}
}

func handleUpdateDocument(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, err := request.RequireString("uri")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		text, err := request.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := b.ChangeDocument(uri, text); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("updated %s", uri)), nil
	}
}

func handleCloseDocument(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, err := request.RequireString("uri")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := b.CloseDocument(uri); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("closed %s", uri)), nil
	}
}

func registerFeatureTools(s *server.MCPServer, b *bridge.AnalyzerBridge) {
	positionArgs := []mcp.ToolOption{
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Zero-based line")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Zero-based character offset")),
	}

	s.AddTool(mcp.NewTool("completion", append([]mcp.ToolOption{
		mcp.WithDescription("Request completion candidates at a position. Returns the analyzer's raw result."),
	}, positionArgs...)...), handleCompletion(b))

	s.AddTool(mcp.NewTool("hover", append([]mcp.ToolOption{
		mcp.WithDescription("Request hover information at a position. Returns the analyzer's raw result."),
	}, positionArgs...)...), handleHover(b))

	s.AddTool(mcp.NewTool("definition", append([]mcp.ToolOption{
		mcp.WithDescription("Request the definition of the symbol at a position. Returns the analyzer's raw result."),
	}, positionArgs...)...), handleDefinition(b))

	s.AddTool(mcp.NewTool("references", append([]mcp.ToolOption{
		mcp.WithDescription("Request every reference to the symbol at a position. Returns the analyzer's raw result."),
		mcp.WithBoolean("include_declaration", mcp.Description("Include the declaration site (default true)")),
	}, positionArgs...)...), handleReferences(b))

	s.AddTool(mcp.NewTool("document_symbols",
		mcp.WithDescription("Request the symbol outline of a document. Returns the analyzer's raw result."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI")),
	), handleDocumentSymbols(b))
}

func handleCompletion(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, line, character, err := position(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := b.Completion(ctx, uri, line, character)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return rawToolResult(raw), nil
	}
}

func handleHover(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, line, character, err := position(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := b.Hover(ctx, uri, line, character)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return rawToolResult(raw), nil
	}
}

func handleDefinition(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, line, character, err := position(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := b.Definition(ctx, uri, line, character)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return rawToolResult(raw), nil
	}
}

func handleReferences(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, line, character, err := position(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := b.References(ctx, uri, line, character, request.GetBool("include_declaration", true))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return rawToolResult(raw), nil
	}
}

func handleDocumentSymbols(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uri, err := request.RequireString("uri")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := b.DocumentSymbols(ctx, uri)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return rawToolResult(raw), nil
	}
}

func registerDiagnosticsTools(s *server.MCPServer, b *bridge.AnalyzerBridge) {
	s.AddTool(mcp.NewTool("diagnostics",
		mcp.WithDescription("Return the most recent diagnostics published per URI by the active session."),
	), handleDiagnostics(b))

	s.AddTool(mcp.NewTool("clear_diagnostics",
		mcp.WithDescription("Empty the diagnostics buffer."),
	), handleClearDiagnostics(b))
}

func handleDiagnostics(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonToolResult(b.DiagnosticsSnapshot())
	}
}

func handleClearDiagnostics(b *bridge.AnalyzerBridge) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b.ClearDiagnostics()
		return mcp.NewToolResultText("diagnostics cleared"), nil
	}
}
