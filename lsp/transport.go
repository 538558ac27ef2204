package lsp

import (
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"rockerboo/mcp-analyzer-bridge/logger"
	"rockerboo/mcp-analyzer-bridge/types"
)

const (
	// defaultSettleDelay gives a freshly spawned socket-mode analyzer time
	// to start listening before the single connect attempt.
	defaultSettleDelay = 750 * time.Millisecond

	// terminateGrace is how long a process gets to exit on its own before
	// it is killed.
	terminateGrace = 2 * time.Second
)

// TransportConfig describes how to reach an analyzer backend
type TransportConfig struct {
	Kind       types.TransportKind
	Command    string
	Args       []string
	WorkingDir string

	// Socket mode only. An empty Command means attach to an analyzer that
	// is already listening.
	Host        string
	Port        int
	SettleDelay time.Duration
}

// Transport is the duplex byte channel a connection runs over. Reads yield
// raw protocol bytes; the frame codec sits above this.
type Transport interface {
	io.ReadWriteCloser
	Kind() types.TransportKind
	// Done is closed once the transport is irreversibly dead
	Done() <-chan struct{}
	// Err reports why the transport died, once it has
	Err() error
}

// OpenTransport spawns and/or connects per the config. Stdio is the default
// when no kind is set.
func OpenTransport(cfg TransportConfig) (Transport, error) {
	switch cfg.Kind {
	case types.TransportSocket:
		return openSocketTransport(cfg)
	case types.TransportStdio, "":
		return openProcessTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}

// logSink forwards analyzer side-channel output (stderr, and stdout in
// socket mode) to the log. It is never parsed as protocol data.
type logSink struct {
	prefix string
}

func (s *logSink) Write(p []byte) (int, error) {
	logger.Debug(s.prefix + strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	closeOnce sync.Once
}

func openProcessTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("process transport requires a command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Stderr = &logSink{prefix: "analyzer stderr: "}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %q: %w", cfg.Command, err)
	}

	t := &processTransport{cmd: cmd, stdin: stdin, stdout: stdout, done: make(chan struct{})}
	go t.wait()

	logger.Debug(fmt.Sprintf("spawned analyzer process %s (pid %d)", cfg.Command, cmd.Process.Pid))

	return t, nil
}

// wait observes process exit and marks the transport dead
func (t *processTransport) wait() {
	waitErr := t.cmd.Wait()

	t.mu.Lock()
	t.closed = true
	if t.err == nil {
		if waitErr != nil {
			t.err = fmt.Errorf("analyzer process exited: %w", waitErr)
		} else {
			t.err = fmt.Errorf("analyzer process exited")
		}
	}
	t.mu.Unlock()

	close(t.done)
}

func (t *processTransport) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

func (t *processTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return 0, ErrTransportClosed
	}

	return t.stdin.Write(p)
}

// Close asks the process to exit by closing its stdin, then kills it after
// a grace period. Idempotent.
func (t *processTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.err == nil {
			t.err = ErrTransportClosed
		}
		t.mu.Unlock()

		_ = t.stdin.Close()

		select {
		case <-t.done:
		case <-time.After(terminateGrace):
			logger.Warn(fmt.Sprintf("analyzer process did not exit, killing pid %d", t.cmd.Process.Pid))
			_ = t.cmd.Process.Kill()
			<-t.done
		}

		_ = t.stdout.Close()
	})

	return nil
}

func (t *processTransport) Kind() types.TransportKind { return types.TransportStdio }

func (t *processTransport) Done() <-chan struct{} { return t.done }

func (t *processTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

type socketTransport struct {
	conn net.Conn

	// cmd and procDone are nil when attaching to an already-running server
	cmd      *exec.Cmd
	procDone chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func openSocketTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Port == 0 {
		return nil, fmt.Errorf("socket transport requires a port")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	var cmd *exec.Cmd

	var procDone chan struct{}

	if cfg.Command != "" {
		cmd = exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.WorkingDir
		cmd.Stderr = &logSink{prefix: "analyzer stderr: "}
		cmd.Stdout = &logSink{prefix: "analyzer stdout: "}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to spawn %q: %w", cfg.Command, err)
		}

		procDone = make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(procDone)
		}()

		settle := cfg.SettleDelay
		if settle <= 0 {
			settle = defaultSettleDelay
		}

		logger.Debug(fmt.Sprintf("spawned analyzer process %s (pid %d), settling %v before connect", cfg.Command, cmd.Process.Pid, settle))
		time.Sleep(settle)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		if cmd != nil {
			_ = cmd.Process.Kill()
			<-procDone
		}

		return nil, fmt.Errorf("failed to connect to analyzer at %s: %w", addr, err)
	}

	t := &socketTransport{conn: conn, cmd: cmd, procDone: procDone, done: make(chan struct{})}

	if procDone != nil {
		go func() {
			<-procDone
			t.terminate(fmt.Errorf("analyzer process exited"))
		}()
	}

	return t, nil
}

func (t *socketTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *socketTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return 0, ErrTransportClosed
	}

	return t.conn.Write(p)
}

// Close destroys the socket. A spawned server that keeps running after the
// socket is gone gets killed as a backstop. Idempotent.
func (t *socketTransport) Close() error {
	t.terminate(ErrTransportClosed)
	return nil
}

func (t *socketTransport) terminate(cause error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.err == nil {
			t.err = cause
		}
		t.mu.Unlock()

		_ = t.conn.Close()

		if t.cmd != nil {
			select {
			case <-t.procDone:
			case <-time.After(terminateGrace):
				logger.Warn(fmt.Sprintf("socket analyzer did not exit, killing pid %d", t.cmd.Process.Pid))
				_ = t.cmd.Process.Kill()
				<-t.procDone
			}
		}

		close(t.done)
	})
}

func (t *socketTransport) Kind() types.TransportKind { return types.TransportSocket }

func (t *socketTransport) Done() <-chan struct{} { return t.done }

func (t *socketTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
