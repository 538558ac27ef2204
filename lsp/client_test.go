package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport adapts one end of an in-memory pipe to the Transport
// interface
type fakeTransport struct {
	net.Conn

	kind types.TransportKind
	done chan struct{}
	once sync.Once
}

func newFakeTransport(conn net.Conn, kind types.TransportKind) *fakeTransport {
	return &fakeTransport{Conn: conn, kind: kind, done: make(chan struct{})}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		_ = t.Conn.Close()
		close(t.done)
	})

	return nil
}

func (t *fakeTransport) Kind() types.TransportKind { return t.kind }

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Err() error { return nil }

// fakeServer scripts the analyzer side of the wire
type fakeServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *fakeServer) read() (map[string]any, error) {
	payload, err := ReadFrame(s.reader)
	if err != nil {
		return nil, err
	}

	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func (s *fakeServer) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return WriteFrame(s.conn, payload)
}

func (s *fakeServer) respond(id, result any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *fakeServer) respondError(id any, code int, message string) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func (s *fakeServer) notify(method string, params any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func (s *fakeServer) request(id any, method string, params any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
}

// serveHandshake answers initialize and consumes initialized
func (s *fakeServer) serveHandshake() error {
	msg, err := s.read()
	if err != nil {
		return err
	}

	if msg["method"] != protocol.MethodInitialize {
		return fmt.Errorf("expected initialize, got %v", msg["method"])
	}

	err = s.respond(msg["id"], map[string]any{
		"capabilities": map[string]any{"hoverProvider": true, "textDocumentSync": 1},
		"serverInfo":   map[string]any{"name": "fake-analyzer", "version": "0.1.0"},
	})
	if err != nil {
		return err
	}

	msg, err = s.read()
	if err != nil {
		return err
	}

	if msg["method"] != protocol.MethodInitialized {
		return fmt.Errorf("expected initialized, got %v", msg["method"])
	}

	return nil
}

// startTestClient brings a client to Ready over an in-memory pipe
func startTestClient(t *testing.T, opts ...ClientOption) (*Client, *fakeServer) {
	t.Helper()
	return startTestClientKind(t, types.TransportStdio, opts...)
}

func startTestClientKind(t *testing.T, kind types.TransportKind, opts ...ClientOption) (*Client, *fakeServer) {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	transport := newFakeTransport(clientEnd, kind)
	server := newFakeServer(serverEnd)

	c := NewClient(TransportConfig{Kind: kind}, opts...)
	c.openTransport = func(TransportConfig) (Transport, error) { return transport, nil }

	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- server.serveHandshake() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	folders := []protocol.WorkspaceFolder{{URI: "file:///workspace", Name: "workspace"}}
	require.NoError(t, c.Start(ctx, "file:///workspace", folders))
	require.NoError(t, <-handshakeErr)

	t.Cleanup(func() {
		_ = server.conn.Close()
		c.Stop()
	})

	return c, server
}

type rawResult struct {
	raw json.RawMessage
	err error
}

func TestStartHandshake(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	transport := newFakeTransport(clientEnd, types.TransportStdio)
	server := newFakeServer(serverEnd)

	c := NewClient(TransportConfig{Kind: types.TransportStdio}, WithClientInfo("bridge-test", "9.9.9"))
	c.openTransport = func(TransportConfig) (Transport, error) { return transport, nil }

	type handshake struct {
		initParams map[string]any
		err        error
	}

	captured := make(chan handshake, 1)
	go func() {
		msg, err := server.read()
		if err != nil {
			captured <- handshake{err: err}
			return
		}

		if err := server.respond(msg["id"], map[string]any{
			"capabilities": map[string]any{"hoverProvider": true},
			"serverInfo":   map[string]any{"name": "fake-analyzer", "version": "0.1.0"},
		}); err != nil {
			captured <- handshake{err: err}
			return
		}

		if _, err := server.read(); err != nil {
			captured <- handshake{err: err}
			return
		}

		params, _ := msg["params"].(map[string]any)
		captured <- handshake{initParams: params}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Start(ctx, "file:///proj", []protocol.WorkspaceFolder{{URI: "file:///proj", Name: "proj"}})
	require.NoError(t, err)

	hs := <-captured
	require.NoError(t, hs.err)

	assert.Equal(t, "file:///proj", hs.initParams["rootUri"])
	assert.NotNil(t, hs.initParams["processId"])

	clientInfo, _ := hs.initParams["clientInfo"].(map[string]any)
	assert.Equal(t, "bridge-test", clientInfo["name"])
	assert.Equal(t, "9.9.9", clientInfo["version"])

	folders, _ := hs.initParams["workspaceFolders"].([]any)
	require.Len(t, folders, 1)

	caps, _ := hs.initParams["capabilities"].(map[string]any)
	assert.Contains(t, caps, "textDocument")
	assert.Contains(t, caps, "workspace")

	assert.Equal(t, StateReady, c.State())
	assert.JSONEq(t, `{"hoverProvider":true}`, string(c.ServerCapabilities()))

	info := c.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "fake-analyzer", info.Name)

	_ = server.conn.Close()
	c.Stop()
}

func TestStartRejectsSecondStart(t *testing.T) {
	c, _ := startTestClient(t)

	err := c.Start(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartInitializeError(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	transport := newFakeTransport(clientEnd, types.TransportStdio)
	server := newFakeServer(serverEnd)

	c := NewClient(TransportConfig{Kind: types.TransportStdio})
	c.openTransport = func(TransportConfig) (Transport, error) { return transport, nil }

	serveErr := make(chan error, 1)
	go func() {
		msg, err := server.read()
		if err != nil {
			serveErr <- err
			return
		}

		serveErr <- server.respondError(msg["id"], protocol.CodeInternalError, "backend exploded")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Start(ctx, "", nil)
	require.Error(t, err)
	require.NoError(t, <-serveErr)

	var respErr *protocol.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, protocol.CodeInternalError, respErr.Code)

	assert.Equal(t, StateClosed, c.State())
	_ = server.conn.Close()
}

func TestStartTransportFailure(t *testing.T) {
	c := NewClient(TransportConfig{Kind: types.TransportStdio, Command: "/nonexistent/analyzer-binary"})

	err := c.Start(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Hover(context.Background(), "file:///x.go", 0, 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestOperationsBeforeStart(t *testing.T) {
	c := NewClient(TransportConfig{Kind: types.TransportStdio})

	err := c.OpenDocument("file:///x.go", "go", "package x")
	assert.ErrorIs(t, err, ErrSessionNotStarted)

	_, err = c.Completion(context.Background(), "file:///x.go", 0, 0)
	assert.ErrorIs(t, err, ErrSessionNotStarted)
}

func TestOutOfOrderResponses(t *testing.T) {
	c, server := startTestClient(t)

	ctx := context.Background()
	first := make(chan rawResult, 1)
	second := make(chan rawResult, 1)

	go func() {
		raw, err := c.Hover(ctx, "file:///a.go", 1, 1)
		first <- rawResult{raw, err}
	}()
	go func() {
		raw, err := c.Hover(ctx, "file:///b.go", 2, 2)
		second <- rawResult{raw, err}
	}()

	uriOf := func(msg map[string]any) string {
		params, _ := msg["params"].(map[string]any)
		doc, _ := params["textDocument"].(map[string]any)
		uri, _ := doc["uri"].(string)
		return uri
	}

	req1, err := server.read()
	require.NoError(t, err)
	req2, err := server.read()
	require.NoError(t, err)

	// Answer in reverse arrival order; each caller must still get its own
	// result.
	require.NoError(t, server.respond(req2["id"], map[string]any{"contents": uriOf(req2)}))
	require.NoError(t, server.respond(req1["id"], map[string]any{"contents": uriOf(req1)}))

	resA := <-first
	require.NoError(t, resA.err)
	assert.JSONEq(t, `{"contents":"file:///a.go"}`, string(resA.raw))

	resB := <-second
	require.NoError(t, resB.err)
	assert.JSONEq(t, `{"contents":"file:///b.go"}`, string(resB.raw))
}

func TestServerErrorPassedThrough(t *testing.T) {
	c, server := startTestClient(t)

	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Definition(context.Background(), "file:///a.go", 5, 5)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)
	require.NoError(t, server.respondError(req["id"], protocol.CodeRequestFailed, "no definition found"))

	res := <-results
	require.Error(t, res.err)

	var respErr *protocol.ResponseError
	require.ErrorAs(t, res.err, &respErr)
	assert.Equal(t, protocol.CodeRequestFailed, respErr.Code)
	assert.Equal(t, "no definition found", respErr.Message)
}

func TestCancelledCallDropsLateResponse(t *testing.T) {
	c, server := startTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Hover(ctx, "file:///slow.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)

	cancel()

	res := <-results
	require.ErrorIs(t, res.err, context.Canceled)

	// The late answer lands on no pending slot and is dropped
	require.NoError(t, server.respond(req["id"], map[string]any{"contents": "late"}))

	// The connection stays healthy for the next call
	go func() {
		raw, err := c.Hover(context.Background(), "file:///next.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	req, err = server.read()
	require.NoError(t, err)
	require.NoError(t, server.respond(req["id"], map[string]any{"contents": "fresh"}))

	res = <-results
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"contents":"fresh"}`, string(res.raw))
}

func TestUnknownResponseIDIgnored(t *testing.T) {
	c, server := startTestClient(t)

	require.NoError(t, server.respond(9999, map[string]any{"contents": "orphan"}))

	// A round trip after the orphan proves the reader survived it
	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Hover(context.Background(), "file:///x.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)
	require.NoError(t, server.respond(req["id"], map[string]any{"contents": "ok"}))

	res := <-results
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"contents":"ok"}`, string(res.raw))
}

func TestWorkspaceConfigurationAutoAnswered(t *testing.T) {
	_, server := startTestClient(t)

	require.NoError(t, server.request("cfg-1", protocol.MethodWorkspaceConfiguration, map[string]any{
		"items": []map[string]any{{"section": "analyzer"}, {"section": "other"}},
	}))

	resp, err := server.read()
	require.NoError(t, err)

	// String ids are echoed back verbatim
	assert.Equal(t, "cfg-1", resp["id"])
	assert.NotContains(t, resp, "error")

	result, ok := resp["result"].([]any)
	require.True(t, ok)
	require.Len(t, result, 2)
	for _, item := range result {
		assert.Equal(t, map[string]any{}, item)
	}
}

func TestRegisterCapabilityAutoAnswered(t *testing.T) {
	_, server := startTestClient(t)

	require.NoError(t, server.request(7, protocol.MethodRegisterCapability, map[string]any{
		"registrations": []any{},
	}))

	resp, err := server.read()
	require.NoError(t, err)
	assert.Equal(t, float64(7), resp["id"])
	assert.NotContains(t, resp, "error")
	assert.Contains(t, resp, "result")
	assert.Nil(t, resp["result"])
}

func TestWorkDoneProgressCreateAutoAnswered(t *testing.T) {
	_, server := startTestClient(t)

	require.NoError(t, server.request(8, protocol.MethodWorkDoneProgressCreate, map[string]any{
		"token": "indexing-1",
	}))

	resp, err := server.read()
	require.NoError(t, err)
	assert.Equal(t, float64(8), resp["id"])
	assert.Nil(t, resp["result"])
}

func TestUnsupportedServerRequestRejected(t *testing.T) {
	_, server := startTestClient(t)

	require.NoError(t, server.request(9, "window/showMessageRequest", map[string]any{
		"type": 3, "message": "pick one",
	}))

	resp, err := server.read()
	require.NoError(t, err)
	assert.Equal(t, float64(9), resp["id"])
	assert.NotContains(t, resp, "result")

	respErr, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(protocol.CodeMethodNotFound), respErr["code"])
}

func TestDiagnosticsDelivery(t *testing.T) {
	c, server := startTestClient(t)

	type published struct {
		uri         string
		diagnostics []protocol.Diagnostic
	}

	got := make(chan published, 1)
	c.OnDiagnostics(func(uri string, diagnostics []protocol.Diagnostic) {
		got <- published{uri, diagnostics}
	})

	require.NoError(t, server.notify(protocol.MethodPublishDiagnostics, map[string]any{
		"uri": "file:///x.go",
		"diagnostics": []map[string]any{{
			"range": map[string]any{
				"start": map[string]any{"line": 1, "character": 2},
				"end":   map[string]any{"line": 1, "character": 9},
			},
			"severity": 1,
			"message":  "unused variable",
		}},
	}))

	select {
	case p := <-got:
		assert.Equal(t, "file:///x.go", p.uri)
		require.Len(t, p.diagnostics, 1)
		assert.Equal(t, "unused variable", p.diagnostics[0].Message)
		assert.Equal(t, uint32(1), p.diagnostics[0].Range.Start.Line)
		assert.Equal(t, 1, p.diagnostics[0].Severity)
	case <-time.After(2 * time.Second):
		t.Fatal("diagnostics not delivered")
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	c, server := startTestClient(t)

	// A frame whose payload is not JSON is dropped without killing the
	// connection
	require.NoError(t, WriteFrame(server.conn, []byte("this is not json")))

	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Hover(context.Background(), "file:///x.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)
	require.NoError(t, server.respond(req["id"], map[string]any{"contents": "still alive"}))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, StateReady, c.State())
}

func TestTransportDeathRejectsPending(t *testing.T) {
	c, server := startTestClient(t)

	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Hover(context.Background(), "file:///x.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	_, err := server.read()
	require.NoError(t, err)

	// The analyzer dies with the request still pending
	require.NoError(t, server.conn.Close())

	res := <-results
	require.ErrorIs(t, res.err, ErrConnectionClosed)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Completion(context.Background(), "file:///x.go", 0, 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	err = c.OpenDocument("file:///x.go", "go", "package x")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestStopSendsShutdownThenExit(t *testing.T) {
	c, server := startTestClient(t)

	served := make(chan error, 1)
	go func() {
		msg, err := server.read()
		if err != nil {
			served <- err
			return
		}

		if msg["method"] != protocol.MethodShutdown {
			served <- fmt.Errorf("expected shutdown, got %v", msg["method"])
			return
		}

		if err := server.respond(msg["id"], nil); err != nil {
			served <- err
			return
		}

		msg, err = server.read()
		if err != nil {
			served <- err
			return
		}

		if msg["method"] != protocol.MethodExit {
			served <- fmt.Errorf("expected exit, got %v", msg["method"])
			return
		}

		served <- nil
	}()

	c.Stop()
	require.NoError(t, <-served)
	assert.Equal(t, StateClosed, c.State())

	// Stop is idempotent
	c.Stop()
	assert.Equal(t, StateClosed, c.State())
}

func TestStopSocketModeSkipsExit(t *testing.T) {
	c, server := startTestClientKind(t, types.TransportSocket)

	served := make(chan error, 1)
	go func() {
		msg, err := server.read()
		if err != nil {
			served <- err
			return
		}

		if msg["method"] != protocol.MethodShutdown {
			served <- fmt.Errorf("expected shutdown, got %v", msg["method"])
			return
		}

		if err := server.respond(msg["id"], nil); err != nil {
			served <- err
			return
		}

		// No exit notification in socket mode: the next read sees the
		// transport close instead.
		if _, err := server.read(); err == nil {
			served <- fmt.Errorf("unexpected message after shutdown in socket mode")
			return
		}

		served <- nil
	}()

	c.Stop()
	require.NoError(t, <-served)
	assert.Equal(t, StateClosed, c.State())
}

func TestStopUnstartedClient(t *testing.T) {
	c := NewClient(TransportConfig{Kind: types.TransportStdio})

	c.Stop()
	assert.Equal(t, StateClosed, c.State())
}

func TestFeatureRequestShapes(t *testing.T) {
	c, server := startTestClient(t)

	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.References(context.Background(), "file:///r.go", 3, 7, true)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodReferences, req["method"])

	params, _ := req["params"].(map[string]any)
	position, _ := params["position"].(map[string]any)
	assert.Equal(t, float64(3), position["line"])
	assert.Equal(t, float64(7), position["character"])

	refCtx, _ := params["context"].(map[string]any)
	assert.Equal(t, true, refCtx["includeDeclaration"])

	require.NoError(t, server.respond(req["id"], []map[string]any{{
		"uri":   "file:///r.go",
		"range": map[string]any{"start": map[string]any{"line": 0, "character": 0}, "end": map[string]any{"line": 0, "character": 1}},
	}}))

	res := <-results
	require.NoError(t, res.err)

	var locations []protocol.Location
	require.NoError(t, json.Unmarshal(res.raw, &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, "file:///r.go", locations[0].URI)

	go func() {
		raw, err := c.DocumentSymbols(context.Background(), "file:///r.go")
		results <- rawResult{raw, err}
	}()

	req, err = server.read()
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodDocumentSymbol, req["method"])

	params, _ = req["params"].(map[string]any)
	assert.NotContains(t, params, "position")

	require.NoError(t, server.respond(req["id"], []any{}))

	res = <-results
	require.NoError(t, res.err)
	assert.JSONEq(t, `[]`, string(res.raw))
}

func TestNullFeatureResultPassedThrough(t *testing.T) {
	c, server := startTestClient(t)

	results := make(chan rawResult, 1)
	go func() {
		raw, err := c.Hover(context.Background(), "file:///empty.go", 0, 0)
		results <- rawResult{raw, err}
	}()

	req, err := server.read()
	require.NoError(t, err)
	require.NoError(t, server.respond(req["id"], nil))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "null", string(res.raw))
}
