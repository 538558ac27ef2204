package bridge

import (
	"sync"

	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
)

// diagnosticsBuffer retains the latest diagnostics publish per URI for
// pull-based consumers. A publish fully replaces the previous entry for its
// URI, including a publish with zero diagnostics: an empty list means "the
// analyzer now sees no problems here" and must shadow anything stale.
type diagnosticsBuffer struct {
	mu    sync.Mutex
	byURI map[string][]protocol.Diagnostic
}

func newDiagnosticsBuffer() *diagnosticsBuffer {
	return &diagnosticsBuffer{byURI: make(map[string][]protocol.Diagnostic)}
}

func (b *diagnosticsBuffer) publish(uri string, diagnostics []protocol.Diagnostic) {
	entry := make([]protocol.Diagnostic, len(diagnostics))
	copy(entry, diagnostics)

	b.mu.Lock()
	b.byURI[uri] = entry
	b.mu.Unlock()
}

// snapshot copies the buffer so callers can read it without holding the
// lock against the reader loop's publishes.
func (b *diagnosticsBuffer) snapshot() map[string][]protocol.Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]protocol.Diagnostic, len(b.byURI))
	for uri, diagnostics := range b.byURI {
		entry := make([]protocol.Diagnostic, len(diagnostics))
		copy(entry, diagnostics)
		out[uri] = entry
	}

	return out
}

func (b *diagnosticsBuffer) clear() {
	b.mu.Lock()
	b.byURI = make(map[string][]protocol.Diagnostic)
	b.mu.Unlock()
}
