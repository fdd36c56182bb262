package daemon

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ufoo/pkg/bus"
)

type fakeInspector struct {
	mu    sync.Mutex
	alive map[int]string
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{alive: make(map[int]string)}
}

func (f *fakeInspector) set(pid int, cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = cmd
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

// sentMessage records one Send call.
type sentMessage struct {
	target, message, publisher string
}

// fakeSender records sends and fails for targets listed in fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]error
}

func (f *fakeSender) Send(target, message, publisher string) (bus.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{target, message, publisher})
	if err := f.fail[target]; err != nil {
		return bus.SendResult{}, err
	}
	return bus.SendResult{Seq: int64(len(f.sent)), Targets: []string{target}}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testLogger returns a logger writing into buf.
func testLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(buf, "", 0)
}

// lockedBuffer is a bytes.Buffer safe for loggers on several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// shortTempDir returns a directory short enough for a Unix socket path.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ufoo-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// newTestBus returns an initialized bus under root.
func newTestBus(t *testing.T, root string, in bus.ProcessInspector) *bus.Bus {
	t.Helper()
	b := bus.New(filepath.Join(root, ".ufoo", "bus"), bus.WithInspector(in))
	if _, err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return b
}
