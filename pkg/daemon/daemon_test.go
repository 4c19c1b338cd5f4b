package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/genomewalker/chitta/pkg/client"
	"github.com/genomewalker/chitta/pkg/mind"
	"github.com/genomewalker/chitta/pkg/primitive"
)

type hashEmbedder struct{ dim int }

func (e hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, e.dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
	}
	return primitive.Normalize(v), nil
}

func (e hashEmbedder) Dimensions() int { return e.dim }

func startTestDaemon(t *testing.T) (string, chan error) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	socketPath := filepath.Join(dir, "test.sock")

	cfg := DefaultConfig(dbPath)
	cfg.SocketPath = socketPath
	cfg.MaintInterval = 0 // ticks are driven explicitly in tests
	cfg.Logger = mind.NopLogger()

	mindCfg := mind.DefaultConfig(dbPath)
	mindCfg.Dim = 32
	mindCfg.Logger = mind.NopLogger()

	d, err := New(cfg, mindCfg, mind.WithEmbedder(hashEmbedder{dim: 32}))
	if err != nil {
		t.Fatalf("daemon New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	t.Cleanup(func() {
		d.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return socketPath, done
}

func TestSessionEndToEnd(t *testing.T) {
	socketPath, _ := startTestDaemon(t)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	// initialize must be the first call and reports capabilities.
	caps, err := c.Initialize()
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	var parsed struct {
		Protocol struct {
			Major int `json:"major"`
		} `json:"protocol"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(caps, &parsed); err != nil {
		t.Fatalf("capabilities malformed: %v", err)
	}
	if len(parsed.Tools) == 0 {
		t.Error("capabilities list no tools")
	}

	if err := c.VersionCheck(parsed.Protocol.Major, 0); err != nil {
		t.Fatalf("version check failed: %v", err)
	}

	res, err := c.CallTool("remember", map[string]any{
		"text": "the daemon works",
		"type": "wisdom",
	})
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	id, _ := res.Structured["id"].(string)
	if id == "" {
		t.Fatal("no id returned")
	}

	res, err = c.CallTool("recall", map[string]any{
		"query": "the daemon works",
		"k":     2,
	})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(res.Content) < 2 {
		t.Errorf("recall rendering = %v", res.Content)
	}
}

func TestOrderingWithinConnection(t *testing.T) {
	socketPath, _ := startTestDaemon(t)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Responses follow requests in order within one connection.
	for i := 0; i < 10; i++ {
		res, err := c.CallTool("remember", map[string]any{
			"text": "ordered insert",
		})
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if res.Structured["id"] == "" {
			t.Fatalf("call %d returned no id", i)
		}
	}
}

func TestStatsSpecialFrame(t *testing.T) {
	socketPath, _ := startTestDaemon(t)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.CallTool("remember", map[string]any{"text": "counted"})

	line, err := c.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	var st struct {
		Nodes uint64 `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(line), &st); err != nil {
		t.Fatalf("stats not one-line JSON: %v (%q)", err, line)
	}
	if st.Nodes != 1 {
		t.Errorf("stats nodes = %d", st.Nodes)
	}
}

func TestShutdownFrame(t *testing.T) {
	socketPath, done := startTestDaemon(t)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	c.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after shutdown")
	}

	if err := client.WaitForSocketGone(socketPath, 2*time.Second); err != nil {
		t.Errorf("socket not removed: %v", err)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")

	cfg := DefaultConfig(dbPath)
	cfg.SocketPath = filepath.Join(dir, "a.sock")
	cfg.Logger = mind.NopLogger()
	mindCfg := mind.DefaultConfig(dbPath)
	mindCfg.Dim = 32
	mindCfg.Logger = mind.NopLogger()

	d1, err := New(cfg, mindCfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		d1.Stop()
		d1.close()
	}()

	cfg2 := cfg
	cfg2.SocketPath = filepath.Join(dir, "b.sock")
	if _, err := New(cfg2, mindCfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second daemon should be refused: %v", err)
	}
}

func TestUnknownMethodKeepsConnectionOpen(t *testing.T) {
	socketPath, _ := startTestDaemon(t)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Call("no/such/method", nil); err == nil {
		t.Error("unknown method should error")
	}

	// The connection survives the error.
	if _, err := c.CallTool("stats", nil); err != nil {
		t.Errorf("connection unusable after error: %v", err)
	}
}
