package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp/protocol"
	"rockerboo/mcp-analyzer-bridge/utils"
)

// watcherMode selects how workspace file changes are detected
type watcherMode string

const (
	watcherOff      watcherMode = "off"
	watcherPolling  watcherMode = "polling"
	watcherFsnotify watcherMode = "fsnotify"
	watcherAuto     watcherMode = "auto"
)

// debounceWindow batches bursts of fsnotify events into one notification
const debounceWindow = 500 * time.Millisecond

// watcherModeFromEnv reads FILE_WATCHER_MODE. Polling exists for mounts
// where inotify does not deliver events (Docker on Windows, some NFS).
func watcherModeFromEnv() watcherMode {
	switch strings.ToLower(os.Getenv("FILE_WATCHER_MODE")) {
	case "off", "manual", "disabled":
		return watcherOff
	case "polling", "poll":
		return watcherPolling
	case "fsnotify", "inotify", "native":
		return watcherFsnotify
	case "auto", "":
		return watcherAuto
	default:
		logger.Warn(fmt.Sprintf("unknown FILE_WATCHER_MODE %q, using auto", os.Getenv("FILE_WATCHER_MODE")))
		return watcherAuto
	}
}

// pollingIntervalFromEnv reads FILE_WATCHER_INTERVAL (Go duration syntax)
func pollingIntervalFromEnv() time.Duration {
	raw := os.Getenv("FILE_WATCHER_INTERVAL")
	if raw == "" {
		return 30 * time.Second
	}

	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		logger.Warn(fmt.Sprintf("invalid FILE_WATCHER_INTERVAL %q, using 30s", raw))
		return 30 * time.Second
	}

	return interval
}

// fileWatcher observes the workspace and reports batched change events.
// extensions is a lowercase whitelist including the dot; empty watches
// every regular file outside skipped directories.
type fileWatcher struct {
	root       string
	extensions []string
	mode       watcherMode
	interval   time.Duration
	notify     func([]protocol.FileEvent)
}

func newFileWatcher(root string, extensions []string, notify func([]protocol.FileEvent)) *fileWatcher {
	return &fileWatcher{
		root:       root,
		extensions: extensions,
		mode:       watcherModeFromEnv(),
		interval:   pollingIntervalFromEnv(),
		notify:     notify,
	}
}

// run blocks until ctx is cancelled. In auto mode a failed fsnotify setup
// degrades to polling instead of failing the daemon.
func (w *fileWatcher) run(ctx context.Context) error {
	switch w.mode {
	case watcherOff:
		logger.Info("file watcher disabled")
		<-ctx.Done()

		return nil
	case watcherPolling:
		return w.runPolling(ctx)
	case watcherFsnotify:
		return w.runFsnotify(ctx)
	default:
		if err := w.runFsnotify(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(fmt.Sprintf("fsnotify unavailable (%v), falling back to polling", err))
			return w.runPolling(ctx)
		}

		return nil
	}
}

func (w *fileWatcher) wantsFile(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.extensions {
		if ext == want {
			return true
		}
	}

	return false
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor"
}

func (w *fileWatcher) runFsnotify(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if entry.IsDir() {
			if path != w.root && skipDir(entry.Name()) {
				return filepath.SkipDir
			}

			if err := watcher.Add(path); err != nil {
				logger.Warn(fmt.Sprintf("failed to watch %s: %v", path, err))
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk workspace: %w", err)
	}

	logger.Info(fmt.Sprintf("fsnotify watcher running on %s", w.root))

	// Changes accumulate per URI until the stream goes quiet for a
	// debounce window; a create followed by writes stays a create.
	pending := make(map[string]int)

	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}

		changes := make([]protocol.FileEvent, 0, len(pending))
		for uri, changeType := range pending {
			changes = append(changes, protocol.FileEvent{URI: uri, Type: changeType})
		}

		pending = make(map[string]int)
		w.notify(changes)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(event.Name)) {
						_ = watcher.Add(event.Name)
					}

					continue
				}
			}

			if !w.wantsFile(event.Name) {
				continue
			}

			uri := utils.PathToURI(event.Name)

			switch {
			case event.Has(fsnotify.Create):
				pending[uri] = protocol.FileCreated
			case event.Has(fsnotify.Write):
				if _, seen := pending[uri]; !seen {
					pending[uri] = protocol.FileChanged
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				pending[uri] = protocol.FileDeleted
			default:
				continue
			}

			debounce.Reset(debounceWindow)

		case <-debounce.C:
			flush()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn(fmt.Sprintf("fsnotify error: %v", err))
		}
	}
}

func (w *fileWatcher) runPolling(ctx context.Context) error {
	logger.Info(fmt.Sprintf("polling watcher running on %s (interval %v)", w.root, w.interval))

	previous := w.scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := w.scan()

			if changes := diffScans(previous, current); len(changes) > 0 {
				logger.Debug(fmt.Sprintf("polling watcher detected %d changes", len(changes)))
				w.notify(changes)
			}

			previous = current
		}
	}
}

// scan snapshots modification times of every watched file under the root
func (w *fileWatcher) scan() map[string]int64 {
	snapshot := make(map[string]int64)

	_ = filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if entry.IsDir() {
			if path != w.root && skipDir(entry.Name()) {
				return filepath.SkipDir
			}

			return nil
		}

		if !w.wantsFile(path) {
			return nil
		}

		if info, err := entry.Info(); err == nil {
			snapshot[path] = info.ModTime().UnixNano()
		}

		return nil
	})

	return snapshot
}

// diffScans compares two scan snapshots and emits one event per created,
// modified or deleted path.
func diffScans(previous, current map[string]int64) []protocol.FileEvent {
	var changes []protocol.FileEvent

	for path, mtime := range current {
		prev, existed := previous[path]

		switch {
		case !existed:
			changes = append(changes, protocol.FileEvent{URI: utils.PathToURI(path), Type: protocol.FileCreated})
		case prev != mtime:
			changes = append(changes, protocol.FileEvent{URI: utils.PathToURI(path), Type: protocol.FileChanged})
		}
	}

	for path := range previous {
		if _, exists := current[path]; !exists {
			changes = append(changes, protocol.FileEvent{URI: utils.PathToURI(path), Type: protocol.FileDeleted})
		}
	}

	return changes
}
