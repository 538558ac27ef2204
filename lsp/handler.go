package lsp

import (
	"encoding/json"
	"fmt"
	"sync"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/types"
)

// ProgressHandler receives raw $/progress payloads
type ProgressHandler func(params protocol.ProgressParams)

// Handler routes server-to-client traffic: diagnostics and progress go to
// their registered subscribers, log/show messages go to the log, and the
// handful of server-initiated requests a client must answer get their
// deterministic replies.
type Handler struct {
	mu          sync.Mutex
	diagnostics types.DiagnosticsHandler
	progress    ProgressHandler
}

// SetDiagnosticsCallback stores the diagnostics subscriber. There is one
// slot; registering again replaces the previous subscriber.
func (h *Handler) SetDiagnosticsCallback(handler types.DiagnosticsHandler) {
	h.mu.Lock()
	h.diagnostics = handler
	h.mu.Unlock()
}

// SetProgressCallback stores the $/progress subscriber, replacing any
// previous one.
func (h *Handler) SetProgressCallback(handler ProgressHandler) {
	h.mu.Lock()
	h.progress = handler
	h.mu.Unlock()
}

func (h *Handler) callbacks() (types.DiagnosticsHandler, ProgressHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.diagnostics, h.progress
}

// handleNotification dispatches one server notification. Runs on the reader
// goroutine, so subscribers must not issue requests back to the analyzer
// from their callback.
func (h *Handler) handleNotification(method string, params json.RawMessage) {
	switch method {
	case protocol.MethodPublishDiagnostics:
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Warn(fmt.Sprintf("dropping malformed diagnostics notification: %v", err))
			return
		}

		diagnostics, _ := h.callbacks()
		if diagnostics != nil {
			diagnostics(p.URI, p.Diagnostics)
		}

	case protocol.MethodProgress:
		var p protocol.ProgressParams
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Debug(fmt.Sprintf("dropping malformed progress notification: %v", err))
			return
		}

		_, progress := h.callbacks()
		if progress != nil {
			progress(p)
		} else {
			logger.Debug(fmt.Sprintf("analyzer progress: %s", string(p.Value)))
		}

	case protocol.MethodLogMessage:
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		switch p.Type {
		case protocol.MessageError:
			logger.Error("analyzer: " + p.Message)
		case protocol.MessageWarning:
			logger.Warn("analyzer: " + p.Message)
		default:
			logger.Debug("analyzer: " + p.Message)
		}

	case protocol.MethodShowMessage:
		var p protocol.ShowMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		logger.Info("analyzer message: " + p.Message)

	case protocol.MethodTelemetryEvent:
		logger.Debug(fmt.Sprintf("analyzer telemetry: %s", string(params)))

	default:
		logger.Debug(fmt.Sprintf("ignoring notification %s", method))
	}
}

// answerServerRequest builds the reply for a server-initiated request so
// analyzers that use dynamic negotiation do not stall waiting on us.
func (h *Handler) answerServerRequest(method string, params json.RawMessage) (any, *protocol.ResponseError) {
	switch method {
	case protocol.MethodWorkspaceConfiguration:
		var p protocol.ConfigurationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &protocol.ResponseError{Code: protocol.CodeInvalidParams, Message: err.Error()}
		}

		// One empty settings object per requested item. Analyzers fall back
		// to their defaults.
		items := make([]any, len(p.Items))
		for i := range items {
			items[i] = map[string]any{}
		}

		return items, nil

	case protocol.MethodRegisterCapability, protocol.MethodUnregisterCapability:
		return nil, nil

	case protocol.MethodWorkDoneProgressCreate:
		return nil, nil

	default:
		return nil, &protocol.ResponseError{
			Code:    protocol.CodeMethodNotFound,
			Message: fmt.Sprintf("unsupported request %q", method),
		}
	}
}
