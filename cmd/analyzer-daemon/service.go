package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"rockerboo/mcp-analyzer-bridge/bridge"
	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/types"
)

// Daemon-side error codes, outside the range reserved by JSON-RPC itself
const (
	codeNoSession       = -32010
	codeSessionActive   = -32011
	codeDocumentNotOpen = -32012
)

// defaultMethodTimeout bounds each daemon request. The core imposes no
// deadlines, so the daemon supplies them as the caller.
const defaultMethodTimeout = 90 * time.Second

type startParams struct {
	Backend string            `json:"backend"`
	Options map[string]string `json:"options,omitempty"`
}

type documentParams struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId,omitempty"`
	Text       string `json:"text,omitempty"`
}

type featureParams struct {
	URI                string `json:"uri"`
	Line               uint32 `json:"line"`
	Character          uint32 `json:"character"`
	IncludeDeclaration *bool  `json:"includeDeclaration,omitempty"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

// daemonService serves the bridge surface to TCP clients and fans watcher
// file events out to every connected one.
type daemonService struct {
	bridge *bridge.AnalyzerBridge

	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]struct{}
}

func newDaemonService(b *bridge.AnalyzerBridge) *daemonService {
	return &daemonService{
		bridge: b,
		conns:  make(map[*jsonrpc2.Conn]struct{}),
	}
}

// serveConn speaks newline-delimited JSON-RPC on one client connection
// until it closes.
func (s *daemonService) serveConn(ctx context.Context, netConn net.Conn) {
	logger.Debug(fmt.Sprintf("daemon client connected: %s", netConn.RemoteAddr()))

	stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	<-conn.DisconnectNotify()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	logger.Debug(fmt.Sprintf("daemon client disconnected: %s", netConn.RemoteAddr()))
}

// broadcastFileEvents forwards watcher changes to the analyzer and pushes
// them to every connected client.
func (s *daemonService) broadcastFileEvents(changes []protocol.FileEvent) {
	if len(changes) == 0 {
		return
	}

	if err := s.bridge.NotifyFileEvents(changes); err != nil && !errors.Is(err, bridge.ErrNoActiveSession) {
		logger.Warn(fmt.Sprintf("failed to forward file events to analyzer: %v", err))
	}

	params := protocol.DidChangeWatchedFilesParams{Changes: changes}

	s.mu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Notify(context.Background(), "workspace/fileEvents", params); err != nil {
			logger.Debug(fmt.Sprintf("failed to push file events to client: %v", err))
		}
	}
}

func (s *daemonService) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, methodTimeout(req.Method))
	defer cancel()

	start := time.Now()
	result, err := s.dispatch(ctx, req)

	logger.Debug(fmt.Sprintf("daemon method %s finished in %s (err=%v)", req.Method, time.Since(start), err))

	if err != nil {
		return nil, rpcError(err)
	}

	return result, nil
}

func methodTimeout(method string) time.Duration {
	switch method {
	case "feature/references", "feature/documentSymbols":
		// Workspace-wide answers; large projects need the headroom.
		return 3 * time.Minute
	case "session/start":
		// Covers spawn plus handshake plus initial indexing.
		return 5 * time.Minute
	default:
		return defaultMethodTimeout
	}
}

func (s *daemonService) dispatch(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "session/start":
		var p startParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		if p.Backend == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "backend is required"}
		}

		return s.bridge.StartSession(ctx, types.BackendKind(p.Backend), p.Options)

	case "session/stop":
		s.bridge.StopSession()
		return ackResult{OK: true}, nil

	case "session/status":
		return s.bridge.Status(), nil

	case "document/open":
		var p documentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		if err := s.bridge.OpenDocument(p.URI, p.LanguageID, p.Text); err != nil {
			return nil, err
		}

		return ackResult{OK: true}, nil

	case "document/change":
		var p documentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		if err := s.bridge.ChangeDocument(p.URI, p.Text); err != nil {
			return nil, err
		}

		return ackResult{OK: true}, nil

	case "document/close":
		var p documentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		if err := s.bridge.CloseDocument(p.URI); err != nil {
			return nil, err
		}

		return ackResult{OK: true}, nil

	case "feature/completion":
		var p featureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		return s.bridge.Completion(ctx, p.URI, p.Line, p.Character)

	case "feature/hover":
		var p featureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		return s.bridge.Hover(ctx, p.URI, p.Line, p.Character)

	case "feature/definition":
		var p featureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		return s.bridge.Definition(ctx, p.URI, p.Line, p.Character)

	case "feature/references":
		var p featureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		includeDeclaration := true
		if p.IncludeDeclaration != nil {
			includeDeclaration = *p.IncludeDeclaration
		}

		return s.bridge.References(ctx, p.URI, p.Line, p.Character, includeDeclaration)

	case "feature/documentSymbols":
		var p featureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}

		return s.bridge.DocumentSymbols(ctx, p.URI)

	case "diagnostics/pull":
		return s.bridge.DiagnosticsSnapshot(), nil

	case "diagnostics/clear":
		s.bridge.ClearDiagnostics()
		return ackResult{OK: true}, nil

	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		}
	}
}

func unmarshalParams(raw *json.RawMessage, v any) error {
	if raw == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "params are required"}
	}

	if err := json.Unmarshal(*raw, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	return nil
}

// rpcError maps bridge and client errors onto wire error codes so callers
// can branch on them without string matching.
func rpcError(err error) error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var remote *protocol.ResponseError
	if errors.As(err, &remote) {
		return &jsonrpc2.Error{Code: int64(remote.Code), Message: remote.Message}
	}

	switch {
	case errors.Is(err, bridge.ErrNoActiveSession), errors.Is(err, lsp.ErrSessionNotStarted):
		return &jsonrpc2.Error{Code: codeNoSession, Message: err.Error()}
	case errors.Is(err, bridge.ErrSessionActive):
		return &jsonrpc2.Error{Code: codeSessionActive, Message: err.Error()}
	case errors.Is(err, lsp.ErrDocumentNotOpen):
		return &jsonrpc2.Error{Code: codeDocumentNotOpen, Message: err.Error()}
	case errors.Is(err, lsp.ErrUnknownBackend), errors.Is(err, lsp.ErrMissingOption):
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	default:
		return err
	}
}
