package protocol

// Method names for the analyzer protocol. The client only ever sends the
// lifecycle, document and feature methods; the rest arrive from the server.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	MethodDidOpen        = "textDocument/didOpen"
	MethodDidChange      = "textDocument/didChange"
	MethodDidClose       = "textDocument/didClose"
	MethodCompletion     = "textDocument/completion"
	MethodHover          = "textDocument/hover"
	MethodDefinition     = "textDocument/definition"
	MethodReferences     = "textDocument/references"
	MethodDocumentSymbol = "textDocument/documentSymbol"

	MethodPublishDiagnostics = "textDocument/publishDiagnostics"

	// Server-initiated requests the client answers on its own.
	MethodWorkspaceConfiguration = "workspace/configuration"
	MethodRegisterCapability     = "client/registerCapability"
	MethodUnregisterCapability   = "client/unregisterCapability"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"

	// Server notifications that are logged, not acted on.
	MethodProgress       = "$/progress"
	MethodLogMessage     = "window/logMessage"
	MethodShowMessage    = "window/showMessage"
	MethodTelemetryEvent = "telemetry/event"

	MethodDidChangeWatchedFiles = "workspace/didChangeWatchedFiles"
)
