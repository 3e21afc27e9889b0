//go:build integration

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

const testBinary = "scrollback_test"

func buildBinary(t *testing.T) string {
	t.Helper()

	buildCmd := exec.Command("go", "build", "-o", testBinary, ".")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}
	t.Cleanup(func() { os.Remove(testBinary) })

	abs, err := filepath.Abs(testBinary)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

// testEnv isolates the config directory and provides credentials that
// pass validation. The key is not a real one, so syncs fail.
func testEnv(home string) []string {
	return append(os.Environ(),
		"HOME="+home,
		"SCROLLBACK_LASTFM_API_KEY=0123456789abcdef0123456789abcdef",
		"SCROLLBACK_LASTFM_USERNAME=testuser",
		"SCROLLBACK_RETRY_DELAY=1",
		"SCROLLBACK_MAX_RETRIES=1",
	)
}

// TestDaemonLifecycle tests starting and stopping the daemon
func TestDaemonLifecycle(t *testing.T) {
	bin := buildBinary(t)
	home := t.TempDir()
	dataDir := t.TempDir()

	cmd := exec.Command(bin, "daemon", "--data-dir", dataDir, "--log-level", "debug")
	cmd.Env = testEnv(home)

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}

	statusFile := filepath.Join(dataDir, "status.json")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(statusFile); err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			t.Fatalf("Status file not created: %s", statusFile)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, err := os.Stat(filepath.Join(dataDir, "progress.db")); err != nil {
		t.Errorf("Progress database not created: %v", err)
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("Failed to signal daemon: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Daemon exited with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("Daemon did not stop within 10 seconds")
	}

	data, err := os.ReadFile(statusFile)
	if err != nil {
		t.Fatalf("Failed to read status file: %v", err)
	}
	var status struct {
		StoppedAt time.Time `json:"stopped_at"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("Failed to parse status file: %v", err)
	}
	if status.StoppedAt.IsZero() {
		t.Errorf("Status file does not record the shutdown:\n%s", data)
	}
}

// TestReadCommandsOnEmptyStore tests the read-only commands before any sync
func TestReadCommandsOnEmptyStore(t *testing.T) {
	bin := buildBinary(t)
	home := t.TempDir()
	dataDir := t.TempDir()

	run := func(args ...string) (string, error) {
		cmd := exec.Command(bin, append(args, "--data-dir", dataDir)...)
		cmd.Env = testEnv(home)
		out, err := cmd.CombinedOutput()
		return string(out), err
	}

	out, err := run("stats")
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No scrobbles stored for testuser") {
		t.Errorf("unexpected stats output:\n%s", out)
	}

	out, err = run("status")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "not fetched yet") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	out, err = run("recent", "-n", "5")
	if err == nil {
		t.Errorf("recent succeeded on an empty store:\n%s", out)
	}
	if !strings.Contains(out, "run 'scrollback sync' first") {
		t.Errorf("unexpected recent output:\n%s", out)
	}

	out, err = run("reset", "--yes")
	if err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}
}
