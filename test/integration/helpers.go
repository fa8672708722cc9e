package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Oraculum/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// TestNode represents a running node process.
type TestNode struct {
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	feedAddr string             // feedAddr is the QUIC feed address
	dataDir  string             // dataDir is the node's data directory
	keyPath  string             // keyPath is the node's private key file
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
}

// HTTPAddr returns the node's HTTP address.
func (n *TestNode) HTTPAddr() string { return n.httpAddr }

// FeedAddr returns the node's QUIC feed address.
func (n *TestNode) FeedAddr() string { return n.feedAddr }

// IsRunning checks if the node process is alive and started successfully.
func (n *TestNode) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "starting registry node") {
		return false
	}

	// ProcessState is set after the background Wait goroutine runs.
	return n.cmd.ProcessState == nil
}

// LogContains checks if the node's logs contain a substring.
func (n *TestNode) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Stop terminates the node process.
func (n *TestNode) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		// Wait is already called in the background by startNode.
		time.Sleep(100 * time.Millisecond)
	}
}

// nodeOpts holds per-node startup configuration.
type nodeOpts struct {
	httpPort int    // httpPort is the HTTP listen port
	feedPort int    // feedPort is the QUIC feed listen port
	dataDir  string // dataDir is the data directory (reused across restarts)
	scheme   string // scheme is the attestation signing scheme
}

// startNode builds the process arguments and launches a node.
func startNode(t *testing.T, binary string, opts nodeOpts) *TestNode {
	t.Helper()

	node := &TestNode{
		httpAddr: fmt.Sprintf("127.0.0.1:%d", opts.httpPort),
		feedAddr: fmt.Sprintf("127.0.0.1:%d", opts.feedPort),
		dataDir:  opts.dataDir,
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
	}
	node.keyPath = filepath.Join(node.dataDir, "key")

	if err := os.MkdirAll(node.dataDir, 0755); err != nil {
		t.Fatalf("create node dir: %v", err)
	}

	args := []string{
		"--data", node.dataDir,
		"--http", node.httpAddr,
		"--feed", node.feedAddr,
		"--key", node.keyPath,
		"--log-level", "debug",
	}
	if opts.scheme != "" {
		args = append(args, "--scheme", opts.scheme)
	}

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, binary, args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()

	waitForNode(t, node)

	return node
}

// waitForNode polls the node's status endpoint until it responds.
func waitForNode(t *testing.T, node *TestNode) {
	t.Helper()

	c := client.NewClient(node.httpAddr)
	deadline := time.Now().Add(15 * time.Second)

	for time.Now().Before(deadline) {
		if _, err := c.Status(); err == nil {
			return
		}

		if node.cmd.ProcessState != nil {
			t.Fatalf("node exited during startup:\nSTDOUT:\n%s\nSTDERR:\n%s",
				node.stdout.String(), node.stderr.String())
		}

		time.Sleep(200 * time.Millisecond)
	}

	t.Fatalf("node did not become ready:\nSTDOUT:\n%s\nSTDERR:\n%s",
		node.stdout.String(), node.stderr.String())
}

// buildBinary compiles the node binary into a temp location.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "oraculum_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found above %s", wd)
		}

		dir = parent
	}
}
