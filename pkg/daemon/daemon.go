// Package daemon hosts the long-lived engine process: an exclusive
// advisory file lock, a versioned local stream socket speaking
// newline-delimited JSON-RPC 2.0, a background maintenance loop, and the
// two special unframed requests (stats, shutdown). One daemon owns one
// database for its lifetime; requests from every connection are
// serialized by the engine's single logical lock.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/genomewalker/chitta/pkg/mind"
	"github.com/genomewalker/chitta/pkg/rpc"
)

// Config tunes the daemon around an engine configuration.
type Config struct {
	// SocketPath is the listening socket. Defaults to the versioned
	// path so incompatible daemons never collide.
	SocketPath string

	// LockPath is the advisory lock file. Defaults to <db path>.lock.
	LockPath string

	// MaintInterval is the maintenance period. Zero disables the loop.
	MaintInterval time.Duration

	// ResponseTimeout bounds each response write.
	ResponseTimeout time.Duration

	Logger mind.Logger
}

// DefaultSocketPath derives the versioned socket path, e.g.
// /tmp/chitta-1.0.sock.
func DefaultSocketPath() string {
	return fmt.Sprintf("%s/chitta-%d.%d.sock", os.TempDir(), rpc.ProtocolMajor, rpc.ProtocolMinor)
}

// DefaultConfig returns the standard daemon settings for a database.
func DefaultConfig(dbPath string) Config {
	return Config{
		SocketPath:      DefaultSocketPath(),
		LockPath:        dbPath + ".lock",
		MaintInterval:   60 * time.Second,
		ResponseTimeout: 5 * time.Second,
		Logger:          mind.NewStdLogger(mind.LevelInfo),
	}
}

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon: another instance holds the database lock")

// Daemon is one long-lived engine host.
type Daemon struct {
	cfg     Config
	m       *mind.Mind
	handler *rpc.Handler

	lockFile *os.File
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// New opens the engine and prepares the daemon. The advisory lock is
// acquired here; a second daemon on the same database refuses to start.
func New(cfg Config, mindCfg mind.Config, opts ...mind.Option) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = mind.NopLogger()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath()
	}
	if cfg.LockPath == "" {
		cfg.LockPath = mindCfg.Path + ".lock"
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = 5 * time.Second
	}

	lock, err := acquireLock(cfg.LockPath)
	if err != nil {
		return nil, err
	}

	m, err := mind.Open(mindCfg, opts...)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		m:        m,
		handler:  rpc.NewHandler(m),
		lockFile: lock,
		conns:    make(map[net.Conn]struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// acquireLock takes the exclusive advisory lock, failing fast when
// another daemon holds it. Stale lock files from a crash are reused: the
// kernel released the crashed process's lock with it.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemon: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, path)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func releaseLock(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// Run binds the socket and serves until shutdown or context
// cancellation. A stale socket file left by a crash is removed first (the
// lock guarantees no live daemon owns it).
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := os.Stat(d.cfg.SocketPath); err == nil {
		os.Remove(d.cfg.SocketPath)
	}
	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", d.cfg.SocketPath, err)
	}
	if err := os.Chmod(d.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}
	d.listener = ln
	d.cfg.Logger.Info("daemon listening",
		"socket", d.cfg.SocketPath,
		"protocol", fmt.Sprintf("%d.%d", rpc.ProtocolMajor, rpc.ProtocolMinor))

	if d.cfg.MaintInterval > 0 {
		d.wg.Add(1)
		go d.maintenanceLoop(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-d.shutdown:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-d.shutdown:
			default:
				d.cfg.Logger.Error("accept failed", "err", err)
			}
			break
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(ctx, conn)
		}()
	}

	d.wg.Wait()
	return d.close()
}

// Stop initiates a graceful shutdown from outside a connection. Idle
// sessions are closed so the accept loop can drain.
func (d *Daemon) Stop() {
	d.once.Do(func() {
		close(d.shutdown)
		d.mu.Lock()
		for c := range d.conns {
			c.Close()
		}
		d.mu.Unlock()
	})
}

// close flushes, snapshots, and releases everything.
func (d *Daemon) close() error {
	d.cfg.Logger.Info("daemon shutting down")
	if _, err := d.m.Snapshot(); err != nil {
		d.cfg.Logger.Warn("shutdown snapshot failed", "err", err)
	}
	err := d.m.Close()
	os.Remove(d.cfg.SocketPath)
	releaseLock(d.lockFile)
	return err
}

// maintenanceLoop fires ticks on the configured interval. The tick runs
// under the engine lock, so it never overlaps an in-flight request.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.MaintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case <-ticker.C:
			report, err := d.m.Tick(ctx)
			if err != nil {
				// Maintenance never retries; the cycle is skipped.
				d.cfg.Logger.Error("maintenance tick failed", "err", err)
				continue
			}
			d.cfg.Logger.Debug("maintenance tick",
				"decayed", report.Decayed,
				"pruned", report.Pruned,
				"coherence", fmt.Sprintf("%.2f", report.Coherence),
				"vitality", fmt.Sprintf("%.2f", report.Vitality))
		}
	}
}

// serveConn handles one newline-delimited session. The two special
// frames (stats, shutdown) bypass JSON-RPC framing entirely.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	d.mu.Lock()
	d.conns[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "stats":
			st := d.m.StatsSnapshot(ctx)
			raw, err := json.Marshal(st)
			if err != nil {
				raw = []byte(`{"error":"stats marshal failed"}`)
			}
			d.writeLine(conn, raw)
			continue
		case "shutdown":
			d.writeLine(conn, []byte(`{"status":"shutting_down"}`))
			d.Stop()
			return
		}

		resp := d.handleFrame(ctx, []byte(line))
		raw, err := json.Marshal(resp)
		if err != nil {
			d.cfg.Logger.Error("response marshal failed", "err", err)
			continue
		}
		if !d.writeLine(conn, raw) {
			// The client abandoned the request; the write already
			// committed is kept, only the response is discarded.
			return
		}
	}
}

func (d *Daemon) writeLine(conn net.Conn, raw []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(d.cfg.ResponseTimeout))
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		d.cfg.Logger.Debug("response write failed", "err", err)
		return false
	}
	return true
}

// JSON-RPC 2.0 envelope types.
type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	Jsonrpc string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *rpc.Error `json:"error,omitempty"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolResult struct {
	Content    []string       `json:"content"`
	Structured map[string]any `json:"structured"`
}

// handleFrame parses one JSON-RPC request and dispatches it. Any error is
// rendered into the error envelope; the connection stays open.
func (d *Daemon) handleFrame(ctx context.Context, raw []byte) response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return response{
			Jsonrpc: "2.0",
			Error:   &rpc.Error{Code: rpc.CodeInvalidParams, Message: "malformed request: " + err.Error()},
		}
	}
	resp := response{Jsonrpc: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocol": map[string]int{
				"major": rpc.ProtocolMajor,
				"minor": rpc.ProtocolMinor,
			},
			"tools": rpc.Taxonomy(),
		}
	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpc.Error{Code: rpc.CodeInvalidParams, Message: "malformed tool call: " + err.Error()}
			break
		}
		result, rpcErr := d.handler.Handle(ctx, params.Name, params.Arguments)
		if rpcErr != nil {
			resp.Error = rpcErr
			break
		}
		resp.Result = toolResult{Content: result.Content, Structured: result.Structured}
	default:
		resp.Error = &rpc.Error{Code: rpc.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return resp
}
