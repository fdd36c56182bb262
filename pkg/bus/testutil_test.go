package bus

import (
	"path/filepath"
	"sync"
	"testing"
)

// fakeInspector reports the processes registered in alive as running with
// the given command names.
type fakeInspector struct {
	mu      sync.Mutex
	alive   map[int]string
	parents map[int]int
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{alive: make(map[int]string), parents: make(map[int]int)}
}

func (f *fakeInspector) setParent(pid, ppid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parents[pid] = ppid
}

func (f *fakeInspector) ParentPID(pid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parents[pid]
}

func (f *fakeInspector) set(pid int, cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = cmd
}

func (f *fakeInspector) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

func (f *fakeInspector) IsProcessAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.alive[pid]
	return ok
}

func (f *fakeInspector) ProcessCommandName(pid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// newTestBus returns an initialized bus under a temp project root.
func newTestBus(t *testing.T, in ProcessInspector) *Bus {
	t.Helper()
	if in == nil {
		in = newFakeInspector()
	}
	dir := filepath.Join(t.TempDir(), ".ufoo", "bus")
	b := New(dir, WithInspector(in))
	if _, err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return b
}

func mustJoin(t *testing.T, b *Bus, req JoinRequest) string {
	t.Helper()
	res, err := b.Join(req)
	if err != nil {
		t.Fatalf("Join(%+v): %v", req, err)
	}
	return res.SubscriberID
}
