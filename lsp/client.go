package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/types"
)

// ConnectionState tracks where a connection is in its lifecycle
type ConnectionState int

const (
	StateUnstarted ConnectionState = iota
	StateHandshaking
	StateReady
	StateShuttingDown
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// shutdownGrace bounds the best-effort shutdown round trip during Stop.
// Regular requests never get implicit deadlines; this one exists so Stop
// cannot hang on a wedged analyzer.
const shutdownGrace = 5 * time.Second

// Client is one connection to an analyzer backend. It owns the transport,
// the reader goroutine, request correlation, and the open-document table.
// A client goes through its lifecycle exactly once; after Stop it cannot
// be restarted.
type Client struct {
	cfg TransportConfig

	// openTransport is swapped for an in-memory pipe in tests
	openTransport func(TransportConfig) (Transport, error)

	clientName    string
	clientVersion string
	capabilities  any
	initOptions   any

	// Handler receives server-to-client traffic. Callbacks may be
	// registered before or after Start.
	Handler *Handler

	transport Transport
	reader    *bufio.Reader
	writeMu   sync.Mutex

	stateMu    sync.Mutex
	state      ConnectionState
	closeCause error
	serverCaps json.RawMessage
	serverInfo *protocol.ServerInfo

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *protocol.ResponseMessage

	docMu     sync.Mutex
	documents map[string]*DocumentRecord

	readerDone chan struct{}
}

// ClientOption customizes a client before Start
type ClientOption func(*Client)

// WithClientInfo overrides the name and version reported to the analyzer
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.clientName = name
		c.clientVersion = version
	}
}

// WithClientCapabilities replaces the default capability offer
func WithClientCapabilities(capabilities any) ClientOption {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithInitializationOptions attaches backend-specific options to the
// initialize request
func WithInitializationOptions(options any) ClientOption {
	return func(c *Client) {
		c.initOptions = options
	}
}

// NewClient creates an unstarted client for the given transport config
func NewClient(cfg TransportConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:           cfg,
		openTransport: OpenTransport,
		clientName:    "mcp-analyzer-bridge",
		clientVersion: "1.0.0",
		capabilities:  DefaultClientCapabilities(),
		Handler:       &Handler{},
		pending:       make(map[int64]chan *protocol.ResponseMessage),
		documents:     make(map[string]*DocumentRecord),
		readerDone:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start opens the transport and runs the initialize handshake. The context
// bounds the handshake only; once Ready, the connection lives until Stop
// or transport death.
func (c *Client) Start(ctx context.Context, rootURI string, workspaceFolders []protocol.WorkspaceFolder) error {
	c.stateMu.Lock()
	if c.state != StateUnstarted {
		state := c.state
		c.stateMu.Unlock()

		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	c.state = StateHandshaking
	c.stateMu.Unlock()

	transport, err := c.openTransport(c.cfg)
	if err != nil {
		c.teardown(err)
		return fmt.Errorf("failed to open transport: %w", err)
	}

	c.stateMu.Lock()
	c.transport = transport
	c.stateMu.Unlock()

	c.reader = bufio.NewReaderSize(transport, 64*1024)

	go c.readLoop()

	pid := int32(os.Getpid())
	params := protocol.InitializeParams{
		ProcessID:             &pid,
		ClientInfo:            &protocol.ClientInfo{Name: c.clientName, Version: c.clientVersion},
		Capabilities:          c.capabilities,
		InitializationOptions: c.initOptions,
		WorkspaceFolders:      workspaceFolders,
	}
	if rootURI != "" {
		params.RootURI = &rootURI
	}

	var result protocol.InitializeResult
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		c.teardown(err)
		return fmt.Errorf("initialize request failed: %w", err)
	}

	c.stateMu.Lock()
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.stateMu.Unlock()

	if err := c.Notify(protocol.MethodInitialized, struct{}{}); err != nil {
		c.teardown(err)
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.stateMu.Lock()
	if c.state == StateHandshaking {
		c.state = StateReady
	}
	ready := c.state == StateReady
	c.stateMu.Unlock()

	if !ready {
		return c.closedError()
	}

	if result.ServerInfo != nil {
		logger.Info(fmt.Sprintf("analyzer session ready: %s %s", result.ServerInfo.Name, result.ServerInfo.Version))
	} else {
		logger.Info("analyzer session ready")
	}

	return nil
}

// Stop runs the polite shutdown sequence and releases the transport. Safe
// to call from any state, any number of times. Shutdown errors are logged
// and swallowed; Stop always leaves the connection Closed.
func (c *Client) Stop() {
	c.stateMu.Lock()
	state := c.state

	switch state {
	case StateClosed, StateShuttingDown:
		c.stateMu.Unlock()
		return
	case StateUnstarted:
		c.state = StateClosed
		c.stateMu.Unlock()

		return
	}

	c.state = StateShuttingDown
	kind := types.TransportStdio
	if c.transport != nil {
		kind = c.transport.Kind()
	}
	c.stateMu.Unlock()

	if state == StateReady {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := c.call(ctx, protocol.MethodShutdown, nil, nil); err != nil {
			logger.Debug(fmt.Sprintf("shutdown request failed (ignored): %v", err))
		}
		cancel()

		// Socket-mode servers own their process; writing exit into a
		// socket the server is about to close only produces noise.
		if kind == types.TransportStdio {
			if err := c.Notify(protocol.MethodExit, nil); err != nil {
				logger.Debug(fmt.Sprintf("exit notification failed (ignored): %v", err))
			}
		}
	}

	c.teardown(nil)

	logger.Debug("analyzer session stopped")
}

// teardown moves the connection to Closed, releases the transport, and
// rejects everything still waiting. Idempotent; the first cause wins.
func (c *Client) teardown(cause error) {
	c.stateMu.Lock()
	if c.state == StateClosed {
		c.stateMu.Unlock()
		return
	}
	c.state = StateClosed
	if c.closeCause == nil {
		c.closeCause = cause
	}
	transport := c.transport
	c.stateMu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}

	c.failPending()
	c.clearDocuments()
}

// State reports the current lifecycle state
func (c *Client) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// ServerCapabilities returns the raw capabilities from the handshake, nil
// before Ready
func (c *Client) ServerCapabilities() json.RawMessage {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.serverCaps
}

// ServerInfo returns the analyzer's self-reported identity, nil before
// Ready or when the analyzer did not send one
func (c *Client) ServerInfo() *protocol.ServerInfo {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.serverInfo
}

// OnDiagnostics registers the diagnostics subscriber
func (c *Client) OnDiagnostics(handler types.DiagnosticsHandler) {
	c.Handler.SetDiagnosticsCallback(handler)
}

// requireReady gates operations that need an established session
func (c *Client) requireReady() error {
	c.stateMu.Lock()
	state := c.state
	c.stateMu.Unlock()

	switch state {
	case StateReady:
		return nil
	case StateUnstarted, StateHandshaking:
		return ErrSessionNotStarted
	case StateShuttingDown:
		return ErrShutdownInProgress
	default:
		return c.closedError()
	}
}

func (c *Client) closedError() error {
	c.stateMu.Lock()
	cause := c.closeCause
	c.stateMu.Unlock()

	if cause != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}

	return ErrConnectionClosed
}

// call issues one request and decodes its result. The wait ends with the
// correlated response, context cancellation, or connection teardown; there
// is no internal deadline.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	raw, err := c.callRaw(ctx, method, params)
	if err != nil {
		return err
	}

	if result == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	return nil
}

func (c *Client) callRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.stateMu.Lock()
	transport := c.transport
	state := c.state
	c.stateMu.Unlock()

	if transport == nil || state == StateUnstarted {
		return nil, ErrSessionNotStarted
	}
	if state == StateClosed {
		return nil, c.closedError()
	}

	id := c.nextID.Add(1)
	ch := make(chan *protocol.ResponseMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := protocol.RequestMessage{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := c.writeMessage(req); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		// The analyzer may still answer; the late response is dropped when
		// it arrives and finds no pending slot.
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedError()
		}
		if resp.Error != nil {
			return nil, resp.Error
		}

		return resp.Result, nil
	}
}

// Notify sends a notification. It does not wait for anything.
func (c *Client) Notify(method string, params any) error {
	return c.writeMessage(protocol.NotificationMessage{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
}

// writeMessage frames and writes one message. The write mutex keeps
// concurrent frames from interleaving on the transport.
func (c *Client) writeMessage(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.stateMu.Lock()
	transport := c.transport
	c.stateMu.Unlock()

	if transport == nil {
		return ErrSessionNotStarted
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return WriteFrame(transport, payload)
}

// readLoop drains the transport until it dies. It never issues requests
// and never blocks on subscriber channels, so the analyzer can always make
// progress writing to us.
func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		payload, err := ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) {
				logger.Error(fmt.Sprintf("fatal framing error, closing connection: %v", err))
				c.teardown(err)

				return
			}

			// EOF or a closed transport: expected during Stop, reported
			// otherwise.
			c.stateMu.Lock()
			state := c.state
			c.stateMu.Unlock()

			if state != StateClosed && state != StateShuttingDown {
				logger.Warn(fmt.Sprintf("analyzer stream ended: %v", err))
			}
			c.teardown(fmt.Errorf("analyzer stream ended: %w", err))

			return
		}

		c.dispatch(payload)
	}
}

// dispatch classifies one incoming payload and routes it. A payload that
// does not parse is dropped; only broken framing is fatal.
func (c *Client) dispatch(payload []byte) {
	var msg protocol.IncomingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn(fmt.Sprintf("dropping unparseable frame: %v", err))
		return
	}

	switch {
	case msg.IsRequest():
		c.answerRequest(&msg)
	case msg.IsNotification():
		c.Handler.handleNotification(msg.Method, msg.Params)
	default:
		id, ok := msg.ResponseID()
		if !ok {
			logger.Warn(fmt.Sprintf("dropping response with unusable id %s", string(msg.ID)))
			return
		}

		c.resolve(id, &protocol.ResponseMessage{
			JSONRPC: msg.JSONRPC,
			ID:      id,
			Result:  msg.Result,
			Error:   msg.Error,
		})
	}
}

// answerRequest replies to a server-initiated request, echoing its id
// verbatim
func (c *Client) answerRequest(msg *protocol.IncomingMessage) {
	result, rpcErr := c.Handler.answerServerRequest(msg.Method, msg.Params)

	resp := protocol.OutgoingResponse{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      msg.ID,
		Result:  result,
		Error:   rpcErr,
	}

	if err := c.writeMessage(resp); err != nil {
		logger.Warn(fmt.Sprintf("failed to answer %s request: %v", msg.Method, err))
	}
}

// resolve hands a response to its waiting caller. The pending slot is
// removed before the send so teardown can never close a channel that is
// about to be sent on.
func (c *Client) resolve(id int64, resp *protocol.ResponseMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		logger.Warn(fmt.Sprintf("dropping response with unknown id %d", id))
		return
	}

	ch <- resp
}

// failPending wakes every in-flight call with a closed channel
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}
