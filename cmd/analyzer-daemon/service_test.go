package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rockerboo/mcp-analyzer-bridge/bridge"
)

// dialTestService wires a daemon service and a JSON-RPC client through an
// in-memory pipe.
func dialTestService(t *testing.T) *jsonrpc2.Conn {
	t.Helper()

	serverSide, clientSide := net.Pipe()

	service := newDaemonService(bridge.NewAnalyzerBridge(nil, []string{t.TempDir()}))
	go service.serveConn(context.Background(), serverSide)

	conn := jsonrpc2.NewConn(
		context.Background(),
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.PlainObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}),
	)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func callCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestSessionStatusIdle(t *testing.T) {
	conn := dialTestService(t)

	var status bridge.Status
	require.NoError(t, conn.Call(callCtx(t), "session/status", nil, &status))

	assert.False(t, status.Running)
	assert.Empty(t, status.SessionID)
}

func TestSessionStopIdleIsOK(t *testing.T) {
	conn := dialTestService(t)

	var ack ackResult
	require.NoError(t, conn.Call(callCtx(t), "session/stop", nil, &ack))
	assert.True(t, ack.OK)
}

func TestDocumentOpRejectedWithoutSession(t *testing.T) {
	conn := dialTestService(t)

	err := conn.Call(callCtx(t), "document/open", documentParams{
		URI:        "file:///a.go",
		LanguageID: "go",
		Text:       "package a",
	}, nil)
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(codeNoSession), rpcErr.Code)
}

func TestStartRejectsUnknownBackend(t *testing.T) {
	conn := dialTestService(t)

	err := conn.Call(callCtx(t), "session/start", startParams{Backend: "no-such-analyzer"}, nil)
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, jsonrpc2.CodeInvalidParams, rpcErr.Code)
}

func TestStartRequiresBackend(t *testing.T) {
	conn := dialTestService(t)

	err := conn.Call(callCtx(t), "session/start", startParams{}, nil)
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, jsonrpc2.CodeInvalidParams, rpcErr.Code)
}

func TestUnknownMethod(t *testing.T) {
	conn := dialTestService(t)

	err := conn.Call(callCtx(t), "session/fly", nil, nil)
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, jsonrpc2.CodeMethodNotFound, rpcErr.Code)
}

func TestDiagnosticsPullEmpty(t *testing.T) {
	conn := dialTestService(t)

	var diagnostics map[string]any
	require.NoError(t, conn.Call(callCtx(t), "diagnostics/pull", nil, &diagnostics))
	assert.Empty(t, diagnostics)
}
