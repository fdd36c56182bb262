package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"ufoo/pkg/bus"
	"ufoo/pkg/store"
)

// DefaultProcessPattern recognizes a running daemon by its command name.
const DefaultProcessPattern = `(?i)ufoo`

// StatusValue represents the health state recorded by a pid file.
type StatusValue string

const (
	// StatusRunning means the pid file exists and names a live daemon.
	StatusRunning StatusValue = "running"
	// StatusStopped means no pid file exists.
	StatusStopped StatusValue = "stopped"
	// StatusStale means the pid file exists but the process is gone or is
	// something else now.
	StatusStale StatusValue = "stale"
)

// WritePIDFile writes pid to path, creating parent directories.
func WritePIDFile(path string, pid int) error {
	if err := store.WriteFileAtomic(path, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	return nil
}

// errBadPID marks a pid file whose content is not a pid.
var errBadPID = errors.New("not a pid")

// ReadPIDFile returns the pid recorded at path. A missing file yields an
// error wrapping fs.ErrNotExist.
func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // lives under the bus directory
	if err != nil {
		return 0, fmt.Errorf("pid file: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	pid, err := strconv.Atoi(text)
	if err != nil || pid < 0 {
		return 0, fmt.Errorf("pid file %s holds %q: %w", path, text, errBadPID)
	}
	return pid, nil
}

// RemovePIDFile deletes path. A file that is already gone is fine.
func RemovePIDFile(path string) error {
	switch err := os.Remove(path); {
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("drop pid file: %w", err)
	}
}

// PIDStatus checks the pid file and whether it names a live process that
// matcher recognizes. It returns the pid (0 if stopped).
func PIDStatus(pidPath string, matcher bus.ProcessMatcher) (StatusValue, int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StatusStopped, 0, nil
		}
		// An unreadable pid file is as good as stale.
		return StatusStale, 0, nil
	}
	if pid > 0 && matcher.Alive(pid) {
		return StatusRunning, pid, nil
	}
	return StatusStale, pid, nil
}

// StopPID sends SIGTERM to the process in pidPath when it is alive, then
// removes the pid file regardless. It reports whether a signal was sent.
func StopPID(pidPath string, matcher bus.ProcessMatcher) (bool, error) {
	status, pid, err := PIDStatus(pidPath, matcher)
	if err != nil {
		return false, err
	}
	signaled := false
	if status == StatusRunning {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return false, fmt.Errorf("find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return false, fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
		}
		signaled = true
	}
	if err := RemovePIDFile(pidPath); err != nil {
		return signaled, err
	}
	return signaled, nil
}

// SetupSignalHandler derives a context that ends on SIGTERM or SIGINT.
// The returned cleanup releases the signal registration and drops pidPath.
func SetupSignalHandler(parent context.Context, pidPath string) (context.Context, func()) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	return ctx, func() {
		stop()
		_ = RemovePIDFile(pidPath)
	}
}
