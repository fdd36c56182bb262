package bus

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultAgentPattern matches the command names of processes that may own
// a subscriber. A pid whose command no longer matches has been reused by
// an unrelated process.
const DefaultAgentPattern = `(?i)(claude|codex|node)`

// ProcessInspector is the liveness capability the registry depends on.
type ProcessInspector interface {
	IsProcessAlive(pid int) bool
	ProcessCommandName(pid int) string
}

// OSInspector implements ProcessInspector with signal 0 and ps(1).
type OSInspector struct{}

// IsProcessAlive sends signal 0 to pid. EPERM still means the pid
// exists, just under another user.
func (OSInspector) IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// ProcessCommandName returns the command name reported by ps, or "" when
// the process is gone or ps is unavailable.
func (OSInspector) ProcessCommandName(pid int) string {
	if pid <= 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ParentPID returns the parent of pid as reported by ps, or 0.
func (OSInspector) ParentPID(pid int) int {
	if pid <= 1 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ps", "-o", "ppid=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0
	}
	ppid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return ppid
}

// ParentInspector walks the process tree.
type ParentInspector interface {
	ParentPID(pid int) int
}

// maxAncestorDepth bounds the walk in AgentAncestor.
const maxAncestorDepth = 32

// AgentAncestor returns the closest process, starting at pid itself and
// walking up through parents, that matcher recognizes. It returns 0 when
// the walk reaches init without a match.
func AgentAncestor(pid int, matcher ProcessMatcher, parents ParentInspector) int {
	for depth := 0; pid > 1 && depth < maxAncestorDepth; depth++ {
		if matcher.Alive(pid) {
			return pid
		}
		pid = parents.ParentPID(pid)
	}
	return 0
}

// ProcessMatcher decides whether a pid still belongs to a recognized
// process: it must be alive and its command name must match Pattern.
type ProcessMatcher struct {
	Inspector ProcessInspector
	Pattern   *regexp.Regexp
}

// NewProcessMatcher compiles pattern, falling back to DefaultAgentPattern
// when pattern is empty or invalid.
func NewProcessMatcher(inspector ProcessInspector, pattern string) ProcessMatcher {
	if inspector == nil {
		inspector = OSInspector{}
	}
	re, err := regexp.Compile(pattern)
	if pattern == "" || err != nil {
		re = defaultAgentRe
	}
	return ProcessMatcher{Inspector: inspector, Pattern: re}
}

// Alive reports whether pid is a live process whose command matches.
func (m ProcessMatcher) Alive(pid int) bool {
	if pid <= 0 || !m.Inspector.IsProcessAlive(pid) {
		return false
	}
	cmd := m.Inspector.ProcessCommandName(pid)
	if cmd == "" {
		return false
	}
	if m.Pattern == nil {
		return defaultAgentRe.MatchString(cmd)
	}
	return m.Pattern.MatchString(cmd)
}

var defaultAgentRe = regexp.MustCompile(DefaultAgentPattern)
