package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ufoo/pkg/store"
)

// Queues manages per-subscriber pending files under queues/<safe>/.
type Queues struct {
	dir string
}

// NewQueues returns a queue manager rooted at dir.
func NewQueues(dir string) *Queues {
	return &Queues{dir: dir}
}

// Dir returns the queue directory for a subscriber.
func (q *Queues) Dir(id string) string {
	return filepath.Join(q.dir, SubscriberToSafeName(id))
}

// PendingPath returns the pending queue file for a subscriber.
func (q *Queues) PendingPath(id string) string {
	return filepath.Join(q.Dir(id), "pending.jsonl")
}

// EnsureDir creates the subscriber's queue directory.
func (q *Queues) EnsureDir(id string) error {
	return store.EnsureDir(q.Dir(id))
}

// Append adds one event to the subscriber's pending queue.
func (q *Queues) Append(id string, ev Event) error {
	if err := store.AppendJSONL(q.PendingPath(id), ev); err != nil {
		return fmt.Errorf("enqueue for %s: %w", id, err)
	}
	return nil
}

// Read returns the pending events without clearing them.
func (q *Queues) Read(id string) []Event {
	return store.ReadJSONL[Event](q.PendingPath(id))
}

// Count returns the number of pending lines.
func (q *Queues) Count(id string) int {
	return len(store.ReadLines(q.PendingPath(id)))
}

// Clear truncates the pending queue and returns how many lines it held.
func (q *Queues) Clear(id string) (int, error) {
	path := q.PendingPath(id)
	n := len(store.ReadLines(path))
	if err := store.Truncate(path); err != nil {
		return 0, err
	}
	return n, nil
}

// Remove deletes the subscriber's queue directory and everything in it.
func (q *Queues) Remove(id string) error {
	if err := os.RemoveAll(q.Dir(id)); err != nil {
		return fmt.Errorf("remove queue for %s: %w", id, err)
	}
	return nil
}

// Subscribers lists the subscriber ids that have a queue directory.
func (q *Queues) Subscribers() []string {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, SafeNameToSubscriber(e.Name()))
		}
	}
	return ids
}

// ValidTTY reports whether path can be used for terminal activation.
func ValidTTY(path string) bool {
	return path != "" && path != "/dev/tty" && strings.HasPrefix(path, "/dev/")
}

// WriteTTY records the subscriber's terminal path. Invalid paths are
// ignored.
func (q *Queues) WriteTTY(id, tty string) error {
	if !ValidTTY(tty) {
		return nil
	}
	return store.WriteFileAtomic(filepath.Join(q.Dir(id), "tty"), []byte(tty+"\n"))
}

// ReadTTY returns the recorded terminal path, or "".
func (q *Queues) ReadTTY(id string) string {
	data, err := os.ReadFile(filepath.Join(q.Dir(id), "tty")) //nolint:gosec // path is constructed by the bus
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
