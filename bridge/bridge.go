// Package bridge owns the process-wide analyzer session: at most one live
// connection at a time, started from a backend preset, torn down as a unit.
// Every operation either succeeds against the current session or fails with
// a precondition error; a failed start never leaves partial state behind.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/types"
	"rockerboo/mcp-analyzer-bridge/utils"

	"github.com/google/uuid"
)

// NewAnalyzerBridge creates an idle bridge. config may be nil when no
// configuration file is in play; presets then run with their defaults.
// The first allowed directory doubles as the workspace root reported to
// analyzers.
func NewAnalyzerBridge(config types.BridgeConfigProvider, allowedDirectories []string) *AnalyzerBridge {
	return &AnalyzerBridge{
		config:             config,
		allowedDirectories: allowedDirectories,
		newClient: func(cfg lsp.TransportConfig, opts ...lsp.ClientOption) types.AnalyzerClient {
			return lsp.NewClient(cfg, opts...)
		},
		diagnostics: newDiagnosticsBuffer(),
	}
}

// SetPathMapper installs workspace path translation for analyzers that see
// the workspace under a different mount point.
func (b *AnalyzerBridge) SetPathMapper(mapper *utils.WorkspacePathMapper) {
	b.mu.Lock()
	b.pathMapper = mapper
	b.mu.Unlock()
}

// AllowedDirectories returns the workspace roots this bridge operates in
func (b *AnalyzerBridge) AllowedDirectories() []string {
	return b.allowedDirectories
}

func (b *AnalyzerBridge) workspaceRoot() string {
	if len(b.allowedDirectories) == 0 {
		return ""
	}

	return b.allowedDirectories[0]
}

// StartSession resolves the backend preset, builds a client, runs the
// handshake, and installs the result as the one active session. Rejected
// with ErrSessionActive while a session exists. A failure at any stage
// leaves the bridge idle with nothing spawned or half-initialized.
func (b *AnalyzerBridge) StartSession(ctx context.Context, kind types.BackendKind, options map[string]string) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return Status{}, fmt.Errorf("%w: %s (stop it before starting %s)", ErrSessionActive, b.session.kind, kind)
	}

	cfg, clientOpts, err := b.resolveTransport(kind, options)
	if err != nil {
		return Status{}, err
	}

	// Clear before the handler is live so a publish arriving during the
	// handshake is kept, not wiped.
	b.diagnostics.clear()

	client := b.newClient(cfg, clientOpts...)
	client.OnDiagnostics(func(uri string, diagnostics []protocol.Diagnostic) {
		b.diagnostics.publish(uri, diagnostics)
	})

	root := b.workspaceRoot()

	var rootURI string

	var folders []protocol.WorkspaceFolder

	if root != "" {
		rootURI = utils.PathToURI(root)
		folders = []protocol.WorkspaceFolder{{URI: rootURI, Name: filepath.Base(root)}}
	}

	if err := client.Start(ctx, rootURI, folders); err != nil {
		// Start cleans up its own transport on failure; Stop here is a
		// no-op on an already-closed client but keeps the contract obvious.
		client.Stop()

		return Status{}, fmt.Errorf("failed to start %s session: %w", kind, err)
	}

	b.session = &session{kind: kind, id: uuid.NewString(), client: client}

	logger.Info(fmt.Sprintf("analyzer session %s started (backend %s)", b.session.id, kind))

	return b.statusLocked(), nil
}

// resolveTransport merges configured backend overrides into the preset's
// transport config. Configuration errors surface here, before anything is
// spawned.
func (b *AnalyzerBridge) resolveTransport(kind types.BackendKind, options map[string]string) (lsp.TransportConfig, []lsp.ClientOption, error) {
	var settings types.BackendSettingsProvider

	if b.config != nil {
		if s, ok := b.config.FindBackendSettings(kind); ok {
			settings = s
		}
	}

	merged := make(map[string]string)

	if settings != nil {
		for k, v := range settings.GetOptions() {
			merged[k] = v
		}
	}

	for k, v := range options {
		merged[k] = v
	}

	cfg, err := lsp.ResolveBackend(kind, merged)
	if err != nil {
		return lsp.TransportConfig{}, nil, err
	}

	var clientOpts []lsp.ClientOption

	if settings != nil {
		if command := settings.GetCommand(); command != "" {
			cfg.Command = command
		}

		if args := settings.GetArgs(); args != nil {
			cfg.Args = args
		}

		if dir := settings.GetWorkingDir(); dir != "" {
			cfg.WorkingDir = dir
		}

		if transport := settings.GetTransport(); transport != "" {
			cfg.Kind = transport
		}

		if host := settings.GetHost(); host != "" {
			cfg.Host = host
		}

		if port := settings.GetPort(); port != 0 {
			cfg.Port = port
		}

		if initOpts := settings.GetInitializationOptions(); initOpts != nil {
			clientOpts = append(clientOpts, lsp.WithInitializationOptions(initOpts))
		}
	}

	if b.config != nil {
		cfg.SettleDelay = b.config.SocketSettleDelay()
	}

	return cfg, clientOpts, nil
}

// StopSession tears down the active session and flushes its diagnostics.
// Calling it while idle is a no-op.
func (b *AnalyzerBridge) StopSession() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return
	}

	id := b.session.id
	b.session.client.Stop()
	b.session = nil
	b.diagnostics.clear()

	logger.Info(fmt.Sprintf("analyzer session %s stopped", id))
}

// Status reports the bridge's current state without touching the analyzer
func (b *AnalyzerBridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.statusLocked()
}

func (b *AnalyzerBridge) statusLocked() Status {
	if b.session == nil {
		return Status{Running: false}
	}

	return Status{
		Running:      true,
		Backend:      b.session.kind,
		SessionID:    b.session.id,
		Capabilities: b.session.client.ServerCapabilities(),
	}
}

// activeClient snapshots the current session's client. Operations run
// against the snapshot outside the lock so a slow analyzer cannot wedge
// Status or StartSession callers.
func (b *AnalyzerBridge) activeClient() (types.AnalyzerClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, ErrNoActiveSession
	}

	return b.session.client, nil
}

// normalizeURI rewrites a document URI into the analyzer's view of the
// workspace when a path mapper is installed.
func (b *AnalyzerBridge) normalizeURI(uri string) (string, error) {
	b.mu.Lock()
	mapper := b.pathMapper
	b.mu.Unlock()

	if mapper == nil {
		return uri, nil
	}

	normalized, err := mapper.NormalizeURI(uri)
	if err != nil {
		return "", fmt.Errorf("failed to map %s into analyzer workspace: %w", uri, err)
	}

	return normalized, nil
}

// OpenDocument announces a document to the active session
func (b *AnalyzerBridge) OpenDocument(uri, languageID, text string) error {
	client, err := b.activeClient()
	if err != nil {
		return err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return err
	}

	return client.OpenDocument(normalized, languageID, text)
}

// ChangeDocument replaces the full text of an open document
func (b *AnalyzerBridge) ChangeDocument(uri, text string) error {
	client, err := b.activeClient()
	if err != nil {
		return err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return err
	}

	return client.ChangeDocument(normalized, text)
}

// CloseDocument retracts a document from the active session
func (b *AnalyzerBridge) CloseDocument(uri string) error {
	client, err := b.activeClient()
	if err != nil {
		return err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return err
	}

	return client.CloseDocument(normalized)
}

// Completion forwards a completion request to the active session
func (b *AnalyzerBridge) Completion(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return nil, err
	}

	return client.Completion(ctx, normalized, line, character)
}

// Hover forwards a hover request to the active session
func (b *AnalyzerBridge) Hover(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return nil, err
	}

	return client.Hover(ctx, normalized, line, character)
}

// Definition forwards a go-to-definition request to the active session
func (b *AnalyzerBridge) Definition(ctx context.Context, uri string, line, character uint32) (json.RawMessage, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return nil, err
	}

	return client.Definition(ctx, normalized, line, character)
}

// References forwards a find-references request to the active session
func (b *AnalyzerBridge) References(ctx context.Context, uri string, line, character uint32, includeDeclaration bool) (json.RawMessage, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return nil, err
	}

	return client.References(ctx, normalized, line, character, includeDeclaration)
}

// DocumentSymbols forwards a document-outline request to the active session
func (b *AnalyzerBridge) DocumentSymbols(ctx context.Context, uri string) (json.RawMessage, error) {
	client, err := b.activeClient()
	if err != nil {
		return nil, err
	}

	normalized, err := b.normalizeURI(uri)
	if err != nil {
		return nil, err
	}

	return client.DocumentSymbols(ctx, normalized)
}

// NotifyFileEvents forwards watcher-observed file changes to the active
// session so the analyzer can refresh its workspace view.
func (b *AnalyzerBridge) NotifyFileEvents(changes []protocol.FileEvent) error {
	client, err := b.activeClient()
	if err != nil {
		return err
	}

	return client.NotifyWatchedFiles(changes)
}

// DiagnosticsSnapshot returns a copy of every buffered diagnostics publish
func (b *AnalyzerBridge) DiagnosticsSnapshot() map[string][]protocol.Diagnostic {
	return b.diagnostics.snapshot()
}

// ClearDiagnostics empties the diagnostics buffer
func (b *AnalyzerBridge) ClearDiagnostics() {
	b.diagnostics.clear()
}
