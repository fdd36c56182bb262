package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"ufoo/pkg/bus"
	"ufoo/pkg/store"
)

// Socket polling defaults for background start.
const (
	DefaultPollAttempts = 50
	DefaultPollInterval = 100 * time.Millisecond
)

// Spawner starts a detached copy of the current program.
type Spawner interface {
	Spawn(args []string, logPath string) (pid int, err error)
}

// ExecSpawner re-executes the running binary in a new session with stdio
// redirected to a log file.
type ExecSpawner struct {
	// Executable overrides the binary to run; empty means this one.
	Executable string
}

// Spawn starts the child and returns its pid without waiting for it.
func (e ExecSpawner) Spawn(args []string, logPath string) (int, error) {
	exe := e.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			self = os.Args[0]
		}
		exe = self
	}
	if err := store.EnsureDir(filepath.Dir(logPath)); err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // log path is constructed by the bus
	if err != nil {
		return 0, fmt.Errorf("open log %s: %w", logPath, err)
	}
	defer logFile.Close()

	child := exec.CommandContext(context.Background(), exe, args...) //nolint:gosec // intentionally re-executing self
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", filepath.Base(exe), err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()
	return pid, nil
}

// Report describes the daemon as seen from outside the process.
type Report struct {
	Status StatusValue `json:"status"`
	PID    int         `json:"pid,omitempty"`
	Last   *TickStatus `json:"last,omitempty"`
}

// Running reports whether a live daemon owns the pid file.
func (r Report) Running() bool { return r.Status == StatusRunning }

// StartResult is returned by Manager.Start.
type StartResult struct {
	PID            int
	AlreadyRunning bool
	SocketReady    bool
}

// Manager starts, stops and inspects the daemon of one bus from the CLI.
type Manager struct {
	Layout       bus.Layout
	Matcher      bus.ProcessMatcher
	Spawner      Spawner
	PollAttempts int
	PollInterval time.Duration
	Sleep        func(time.Duration)
}

// NewManager returns a manager recognizing the daemon by pattern (default
// DefaultProcessPattern).
func NewManager(layout bus.Layout, inspector bus.ProcessInspector, pattern string) *Manager {
	if pattern == "" {
		pattern = DefaultProcessPattern
	}
	return &Manager{
		Layout:       layout,
		Matcher:      bus.NewProcessMatcher(inspector, pattern),
		Spawner:      ExecSpawner{},
		PollAttempts: DefaultPollAttempts,
		PollInterval: DefaultPollInterval,
		Sleep:        time.Sleep,
	}
}

// Status inspects the pid file and the last recorded tick.
func (m *Manager) Status() (Report, error) {
	status, pid, err := PIDStatus(m.Layout.DaemonPIDFile(), m.Matcher)
	if err != nil {
		return Report{}, err
	}
	r := Report{Status: status, PID: pid}
	if st, ok := ReadStatusFile(m.Layout.DaemonStatusFile()); ok {
		r.Last = &st
	}
	return r, nil
}

// Prepare checks for a live daemon before a foreground start. A stale pid
// file is removed. It returns the pid of a daemon that is already running,
// or 0.
func (m *Manager) Prepare() (int, error) {
	status, pid, err := PIDStatus(m.Layout.DaemonPIDFile(), m.Matcher)
	if err != nil {
		return 0, err
	}
	switch status {
	case StatusRunning:
		return pid, nil
	case StatusStale:
		if err := RemovePIDFile(m.Layout.DaemonPIDFile()); err != nil {
			return 0, err
		}
	case StatusStopped:
	}
	return 0, nil
}

// Start spawns the daemon in the background with args and waits a bounded
// time for its control socket. A socket that never appears is reported via
// SocketReady but is not an error.
func (m *Manager) Start(args []string) (StartResult, error) {
	running, err := m.Prepare()
	if err != nil {
		return StartResult{}, err
	}
	if running > 0 {
		return StartResult{PID: running, AlreadyRunning: true, SocketReady: store.Exists(m.Layout.DaemonSocket())}, nil
	}

	pid, err := m.Spawner.Spawn(args, filepath.Join(m.Layout.LogsDir(), "daemon.log"))
	if err != nil {
		return StartResult{}, fmt.Errorf("start daemon: %w", err)
	}
	if err := WritePIDFile(m.Layout.DaemonPIDFile(), pid); err != nil {
		return StartResult{}, err
	}
	return StartResult{PID: pid, SocketReady: m.waitForSocket()}, nil
}

func (m *Manager) waitForSocket() bool {
	sleep := m.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for i := 0; i < m.PollAttempts; i++ {
		if store.Exists(m.Layout.DaemonSocket()) {
			return true
		}
		sleep(m.PollInterval)
	}
	return store.Exists(m.Layout.DaemonSocket())
}

// Stop signals a live daemon and removes the pid file regardless. It
// reports whether a signal was sent.
func (m *Manager) Stop() (bool, error) {
	return StopPID(m.Layout.DaemonPIDFile(), m.Matcher)
}
