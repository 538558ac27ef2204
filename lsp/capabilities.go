package lsp

// DefaultClientCapabilities is the capability offer sent during the
// handshake. It advertises exactly what the bridge can consume: the five
// feature requests, full-text document sync, published diagnostics, and
// the server-initiated requests the handler answers.
func DefaultClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"synchronization": map[string]any{
				"dynamicRegistration": false,
				"didSave":             false,
			},
			"completion": map[string]any{
				"completionItem": map[string]any{
					"snippetSupport":      false,
					"documentationFormat": []string{"markdown", "plaintext"},
					"deprecatedSupport":   true,
				},
				"contextSupport": false,
			},
			"hover": map[string]any{
				"contentFormat": []string{"markdown", "plaintext"},
			},
			"definition": map[string]any{
				"linkSupport": true,
			},
			"references": map[string]any{},
			"documentSymbol": map[string]any{
				"hierarchicalDocumentSymbolSupport": true,
			},
			"publishDiagnostics": map[string]any{
				"relatedInformation": true,
				"versionSupport":     true,
			},
		},
		"workspace": map[string]any{
			"workspaceFolders": true,
			"configuration":    true,
			"didChangeWatchedFiles": map[string]any{
				"dynamicRegistration": false,
			},
		},
		"window": map[string]any{
			"workDoneProgress": true,
		},
	}
}
