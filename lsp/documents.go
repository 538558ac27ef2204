package lsp

import (
	"fmt"
	"sort"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
)

// DocumentRecord tracks one document the analyzer has been told about
type DocumentRecord struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

// OpenDocument announces a document to the analyzer. Opening a URI that is
// already open replaces it: the stale document closes first, then the new
// content opens fresh at version 1.
func (c *Client) OpenDocument(uri, languageID, text string) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	c.docMu.Lock()
	defer c.docMu.Unlock()

	if _, ok := c.documents[uri]; ok {
		logger.Debug(fmt.Sprintf("document %s reopened, replacing previous open", uri))

		if err := c.Notify(protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		}); err != nil {
			return fmt.Errorf("failed to close stale document %s: %w", uri, err)
		}

		delete(c.documents, uri)
	}

	record := &DocumentRecord{URI: uri, LanguageID: languageID, Version: 1, Text: text}

	if err := c.Notify(protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    record.Version,
			Text:       text,
		},
	}); err != nil {
		return fmt.Errorf("failed to open document %s: %w", uri, err)
	}

	c.documents[uri] = record

	return nil
}

// ChangeDocument replaces the full text of an open document and bumps its
// version. Only whole-document sync is supported.
func (c *Client) ChangeDocument(uri, text string) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	c.docMu.Lock()
	defer c.docMu.Unlock()

	record, ok := c.documents[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}

	version := record.Version + 1

	if err := c.Notify(protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	}); err != nil {
		return fmt.Errorf("failed to change document %s: %w", uri, err)
	}

	record.Version = version
	record.Text = text

	return nil
}

// CloseDocument retracts a document from the analyzer. The record goes away
// even if the notification cannot be delivered.
func (c *Client) CloseDocument(uri string) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	c.docMu.Lock()
	defer c.docMu.Unlock()

	if _, ok := c.documents[uri]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}

	delete(c.documents, uri)

	if err := c.Notify(protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}); err != nil {
		return fmt.Errorf("failed to close document %s: %w", uri, err)
	}

	return nil
}

// NotifyWatchedFiles forwards externally observed file changes to the
// analyzer. Changes come from a file watcher, not from open documents, so
// there is no version bookkeeping here.
func (c *Client) NotifyWatchedFiles(changes []protocol.FileEvent) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	if len(changes) == 0 {
		return nil
	}

	return c.Notify(protocol.MethodDidChangeWatchedFiles, protocol.DidChangeWatchedFilesParams{
		Changes: changes,
	})
}

// Document returns a copy of the tracked record for uri
func (c *Client) Document(uri string) (DocumentRecord, bool) {
	c.docMu.Lock()
	defer c.docMu.Unlock()

	record, ok := c.documents[uri]
	if !ok {
		return DocumentRecord{}, false
	}

	return *record, true
}

// OpenDocuments lists the currently open URIs, sorted
func (c *Client) OpenDocuments() []string {
	c.docMu.Lock()
	defer c.docMu.Unlock()

	uris := make([]string, 0, len(c.documents))
	for uri := range c.documents {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	return uris
}

// clearDocuments wipes the table during teardown. A dead connection has
// nothing open.
func (c *Client) clearDocuments() {
	c.docMu.Lock()
	c.documents = make(map[string]*DocumentRecord)
	c.docMu.Unlock()
}
