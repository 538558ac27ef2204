package lsp

import "errors"

// Sentinel errors surfaced by the client and its document layer. Callers
// match them with errors.Is; most are wrapped with the URI or backend kind
// that triggered them.
var (
	// ErrSessionNotStarted is returned for any operation attempted before
	// Start has completed the handshake.
	ErrSessionNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned when Start is called twice on one client
	ErrAlreadyStarted = errors.New("connection already started")

	// ErrShutdownInProgress is returned for operations racing a Stop call
	ErrShutdownInProgress = errors.New("shutdown in progress")

	// ErrConnectionClosed is returned once the transport is gone; pending
	// requests are rejected with it rather than left hanging.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrDocumentNotOpen is returned by change/close for a URI that has no
	// open record.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrTransportClosed is returned for writes on a dead transport
	ErrTransportClosed = errors.New("transport closed")

	// ErrInvalidFrame marks a malformed frame header. It is fatal for the
	// connection that read it: after a header desync the stream cannot be
	// trusted again.
	ErrInvalidFrame = errors.New("invalid frame header")

	// ErrUnknownBackend is returned when no preset is registered for a kind
	ErrUnknownBackend = errors.New("unknown backend kind")

	// ErrMissingOption is returned when a preset's required option is absent
	ErrMissingOption = errors.New("missing required backend option")
)
