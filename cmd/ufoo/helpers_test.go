package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// setupEnv isolates a test from the caller's project and agent session:
// the working directory becomes an empty temp dir and the bus lives in
// busDir.
func setupEnv(t *testing.T, busDir string) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("UFOO_BUS_DIR", busDir)
	for _, key := range []string{
		envClaudeSession, envCodexSession, envBusPublisher, envParentPID,
		"UFOO_PUBLISHER", "UFOO_AGENT_PATTERN", "UFOO_DAEMON_PATTERN", "UFOO_DAEMON_INTERVAL_MS",
	} {
		t.Setenv(key, "")
	}
}

// setupBus is setupEnv plus "ufoo init".
func setupBus(t *testing.T) string {
	t.Helper()
	busDir := filepath.Join(t.TempDir(), "bus")
	setupEnv(t, busDir)
	mustRun(t, "init")
	return busDir
}

// shortTempDir returns a directory short enough for a unix socket path.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ufoo-cli-")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCmdContext(t, context.Background(), args...)
}

func runCmdContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("ufoo %v: %v", args, err)
	}
	return out
}

// fakeSpawner records spawn calls instead of starting processes. When
// touchSocket is set it creates the daemon socket path next to the log
// directory so socket polling ends at once.
type fakeSpawner struct {
	mu          sync.Mutex
	pid         int
	touchSocket bool
	calls       [][]string
	logs        []string
}

func (f *fakeSpawner) Spawn(args []string, logPath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	f.logs = append(f.logs, logPath)
	if f.touchSocket {
		sock := filepath.Join(filepath.Dir(filepath.Dir(logPath)), ".daemon.sock")
		if err := os.WriteFile(sock, nil, 0o600); err != nil {
			return 0, err
		}
	}
	return f.pid, nil
}

func useSpawner(t *testing.T, s *fakeSpawner) {
	t.Helper()
	prev := spawner
	spawner = s
	t.Cleanup(func() { spawner = prev })
}
