// Package client implements the CLI side of the wire protocol: a
// newline-delimited JSON-RPC session over the daemon's local socket,
// with backoff on dial, version negotiation, and the two special frames.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrIncompatibleDaemon is returned when the server's protocol major
// differs from the client's.
var ErrIncompatibleDaemon = errors.New("client: daemon protocol major differs")

// ToolResult mirrors the server's result envelope.
type ToolResult struct {
	Content    []string       `json:"content"`
	Structured map[string]any `json:"structured"`
}

// Error mirrors the server's error envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is one connection to the daemon.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	nextID  int
	timeout time.Duration
}

// Dial connects to the daemon socket, retrying briefly with exponential
// backoff to ride out a daemon that is still binding.
func Dial(socketPath string) (*Client, error) {
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = net.DialTimeout("unix", socketPath, time.Second)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 3 * time.Second
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", socketPath, err)
	}
	return &Client{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 1<<20),
		timeout: 5 * time.Second,
	}, nil
}

type request struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Call sends one JSON-RPC request and waits for its response.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	c.nextID++
	raw, err := json.Marshal(request{
		Jsonrpc: "2.0",
		ID:      c.nextID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	line, err := c.roundTrip(raw)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("client: malformed response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) roundTrip(raw []byte) ([]byte, error) {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(append(raw, '\n')); err != nil {
		return nil, fmt.Errorf("client: write: %w", err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("client: read: %w", err)
	}
	return line, nil
}

// Initialize performs the mandatory first call and returns the raw
// capabilities object.
func (c *Client) Initialize() (json.RawMessage, error) {
	return c.Call("initialize", map[string]any{})
}

// CallTool dispatches one tool by name.
func (c *Client) CallTool(name string, args map[string]any) (*ToolResult, error) {
	raw, err := c.Call("tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: malformed tool result: %w", err)
	}
	return &result, nil
}

// VersionCheck negotiates protocol versions. A major mismatch returns
// ErrIncompatibleDaemon. The chitta CLI then sends the shutdown frame and
// waits for the socket to disappear; it does not start a new daemon.
func (c *Client) VersionCheck(major, minor int) error {
	result, err := c.CallTool("version_check", map[string]any{
		"major": major,
		"minor": minor,
	})
	if err != nil {
		return err
	}
	if compatible, ok := result.Structured["compatible"].(bool); ok && !compatible {
		return ErrIncompatibleDaemon
	}
	return nil
}

// Stats sends the special unframed stats request and returns the
// one-line JSON summary.
func (c *Client) Stats() (string, error) {
	line, err := c.roundTrip([]byte("stats"))
	if err != nil {
		return "", err
	}
	return string(line[:len(line)-1]), nil
}

// Shutdown sends the special shutdown frame and waits for the
// acknowledgement.
func (c *Client) Shutdown() error {
	line, err := c.roundTrip([]byte("shutdown"))
	if err != nil {
		return err
	}
	var ack struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(line, &ack); err != nil {
		return fmt.Errorf("client: malformed shutdown ack: %w", err)
	}
	if ack.Status != "shutting_down" {
		return fmt.Errorf("client: unexpected shutdown ack %q", ack.Status)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// WaitForSocketGone polls until the socket path disappears, used after a
// shutdown request to an incompatible daemon.
func WaitForSocketGone(socketPath string, timeout time.Duration) error {
	op := func() error {
		if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("socket %s still present", socketPath)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxElapsedTime = timeout
	return backoff.Retry(op, policy)
}
