// Command analyzer-daemon keeps one analyzer session alive across many
// short-lived clients. It starts the configured backend once, then serves
// the bridge surface over TCP as newline-delimited JSON-RPC, so repeated
// tool invocations reuse a single indexed session instead of paying the
// analyzer's startup cost every time. A workspace file watcher keeps the
// session's view of the workspace fresh.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rockerboo/mcp-analyzer-bridge/bridge"
	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/lsp"
	"rockerboo/mcp-analyzer-bridge/types"
)

var (
	port       = flag.Int("port", 9999, "TCP port to listen on")
	backend    = flag.String("backend", "", "analyzer backend kind to start (required)")
	workspace  = flag.String("workspace", ".", "workspace root directory")
	configPath = flag.String("config", "", "optional bridge configuration file")
	logPath    = flag.String("log-path", "", "log file path (stderr when empty)")
	logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	watchExt   = flag.String("watch-ext", "", "comma-separated file extensions to watch, e.g. .go,.ts (all files when empty)")
	options    backendOptionFlags
)

// backendOptionFlags collects repeated -option key=value flags
type backendOptionFlags map[string]string

func (f backendOptionFlags) String() string { return fmt.Sprint(map[string]string(f)) }

func (f backendOptionFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("option must be key=value, got %q", value)
	}

	f[key] = val

	return nil
}

func watchExtensions(raw string) []string {
	if raw == "" {
		return nil
	}

	var extensions []string

	for _, ext := range strings.Split(raw, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		extensions = append(extensions, ext)
	}

	return extensions
}

func main() {
	options = make(backendOptionFlags)
	flag.Var(options, "option", "backend option as key=value (repeatable)")
	flag.Parse()

	if *backend == "" {
		log.Fatal("-backend is required")
	}

	if err := logger.InitLogger(logger.LoggerConfig{
		LogPath:     *logPath,
		LogLevel:    *logLevel,
		MaxLogFiles: 5,
	}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	root, err := filepath.Abs(*workspace)
	if err != nil {
		log.Fatalf("failed to resolve workspace %q: %v", *workspace, err)
	}

	var configProvider types.BridgeConfigProvider

	if *configPath != "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}

		config, err := lsp.LoadBridgeConfig(*configPath, []string{filepath.Dir(*configPath), cwd, root})
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		lsp.ApplyEnvOverrides(config)
		configProvider = config
	}

	b := bridge.NewAnalyzerBridge(configProvider, []string{root})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(fmt.Sprintf("starting %s session for %s", *backend, root))

	status, err := b.StartSession(ctx, types.BackendKind(*backend), options)
	if err != nil {
		log.Fatalf("failed to start analyzer session: %v", err)
	}
	defer b.StopSession()

	logger.Info(fmt.Sprintf("analyzer session %s ready", status.SessionID))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("failed to listen on port %d: %v", *port, err)
	}

	logger.Info(fmt.Sprintf("daemon listening on port %d", *port))

	service := newDaemonService(b)
	watcher := newFileWatcher(root, watchExtensions(*watchExt), service.broadcastFileEvents)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.run(ctx)
	})

	g.Go(func() error {
		// Unblocks Accept when the daemon is told to shut down
		<-ctx.Done()
		return listener.Close()
	})

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return fmt.Errorf("accept failed: %w", err)
			}

			go service.serveConn(ctx, conn)
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error(fmt.Sprintf("daemon exiting with error: %v", err))
		os.Exit(1)
	}

	logger.Info("daemon shut down")
}
