// Package protocol declares the wire types for the JSON-RPC analyzer
// protocol. Feature results are deliberately left as json.RawMessage: the
// bridge forwards them untouched, so decoding their many union shapes here
// would be wasted surface.
package protocol

import (
	"encoding/json"
	"fmt"
)

const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes, plus the protocol's reserved range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestFailed        = -32803
)

// RequestMessage is an outgoing request. IDs are always numeric: the client
// generates them from a monotonic counter.
type RequestMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NotificationMessage is an outgoing notification (no response expected)
type NotificationMessage struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ResponseMessage is an incoming response to one of our requests
type ResponseMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error payload of a failed request, surfaced to
// callers as-is.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("analyzer error %d: %s", e.Code, e.Message)
}

// IncomingMessage is the dispatch probe for anything read off the wire.
// The ID stays raw because server-initiated requests may use string ids,
// which are echoed back verbatim.
type IncomingMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// IsRequest reports whether the message is a server-initiated request
// (method plus id, as opposed to a notification or a response).
func (m *IncomingMessage) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// IsNotification reports whether the message is a server notification
func (m *IncomingMessage) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// ResponseID parses the id as the numeric correlation id of one of our
// requests. Returns false for string, null or absent ids.
func (m *IncomingMessage) ResponseID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}

	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}

	return id, true
}

// OutgoingResponse answers a server-initiated request. Result has no
// omitempty: a null result is a valid (and common) success payload.
type OutgoingResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// MarshalJSON keeps the result and error members mutually exclusive on the
// wire
func (r OutgoingResponse) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Error   *ResponseError  `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}

	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result"`
	}{r.JSONRPC, r.ID, r.Result})
}

// Position is a zero-based line/character offset in a document
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open [start, end) span in a document
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location points at a range inside a document
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Diagnostic is one analyzer finding for a document. Code may be a number
// or a string depending on the backend, so it stays raw.
type Diagnostic struct {
	Range    Range           `json:"range"`
	Severity int             `json:"severity,omitempty"`
	Code     json.RawMessage `json:"code,omitempty"`
	Source   string          `json:"source,omitempty"`
	Message  string          `json:"message"`
}

// PublishDiagnosticsParams is the payload of a diagnostics push. A publish
// fully replaces whatever was previously known for the URI.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int32       `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// TextDocumentItem describes a document being opened
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int32  `json:"version"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent carries a full-text replacement. The
// client only ever syncs whole documents, never incremental ranges.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TextDocumentPositionParams is the shared shape of position-based feature
// requests.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

type CompletionParams struct {
	TextDocumentPositionParams
}

type HoverParams struct {
	TextDocumentPositionParams
}

type DefinitionParams struct {
	TextDocumentPositionParams
}

type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// WorkspaceFolder names one root the analyzer should consider
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams opens the handshake. Capabilities is the capability
// offer; its exact shape is built by the client (see lsp.DefaultClientCapabilities).
type InitializeParams struct {
	ProcessID             *int32            `json:"processId"`
	ClientInfo            *ClientInfo       `json:"clientInfo,omitempty"`
	RootURI               *string           `json:"rootUri,omitempty"`
	Capabilities          any               `json:"capabilities"`
	InitializationOptions any               `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// InitializeResult carries the server's capability snapshot. It is kept raw
// and immutable for the life of the connection.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ConfigurationItem is one entry of a workspace/configuration query
type ConfigurationItem struct {
	ScopeURI string `json:"scopeUri,omitempty"`
	Section  string `json:"section,omitempty"`
}

type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// ProgressParams is the payload of $/progress. Token and value shapes are
// backend-defined; both stay raw.
type ProgressParams struct {
	Token json.RawMessage `json:"token"`
	Value json.RawMessage `json:"value"`
}

type WorkDoneProgressCreateParams struct {
	Token json.RawMessage `json:"token"`
}

// Message levels used by window/logMessage and window/showMessage
const (
	MessageError   = 1
	MessageWarning = 2
	MessageInfo    = 3
	MessageLog     = 4
)

type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

type ShowMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// File change kinds for workspace/didChangeWatchedFiles
const (
	FileCreated = 1
	FileChanged = 2
	FileDeleted = 3
)

type FileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}
