package lsp

import (
	"context"
	"encoding/json"

	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
)

// Feature requests forward positions to the analyzer and hand back its raw
// result. Shapes vary per backend (hover contents, definition links vs
// locations), so nothing is decoded here. Deadlines belong to the caller's
// context.

// Completion requests completion candidates at a position
func (c *Client) Completion(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	return c.callRaw(ctx, protocol.MethodCompletion, protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(uri, line, character),
	})
}

// Hover requests hover information at a position
func (c *Client) Hover(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	return c.callRaw(ctx, protocol.MethodHover, protocol.HoverParams{
		TextDocumentPositionParams: positionParams(uri, line, character),
	})
}

// Definition requests the definition site of the symbol at a position
func (c *Client) Definition(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	return c.callRaw(ctx, protocol.MethodDefinition, protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(uri, line, character),
	})
}

// References requests every reference to the symbol at a position
func (c *Client) References(ctx context.Context, uri string, line, character uint32, includeDeclaration bool) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	return c.callRaw(ctx, protocol.MethodReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(uri, line, character),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	})
}

// DocumentSymbols requests the symbol outline of a document
func (c *Client) DocumentSymbols(ctx context.Context, uri string) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	return c.callRaw(ctx, protocol.MethodDocumentSymbol, protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

func positionParams(uri string, line, character uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		Position:     protocol.Position{Line: line, Character: character},
	}
}
