// Package bus implements the project-local event bus shared by agent
// processes: a subscriber registry persisted as a JSON snapshot, an
// append-only event log with monotonic sequence numbers, per-subscriber
// pending queues cleared by ack, and consume cursors over the log.
//
// Every operation follows the same shape: load the registry snapshot,
// reconcile presence, operate, and persist the snapshot when it changed.
// Several processes may do this at once; whole-file writes are atomic
// renames and log/queue writes are single-line appends.
package bus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ufoo/pkg/store"
)

// Bus is the facade over one bus directory.
type Bus struct {
	layout      Layout
	projectRoot string
	busID       string
	matcher     ProcessMatcher
	now         func() time.Time

	queues  *Queues
	offsets *Offsets
	log     *EventLog
	router  *Router

	mu sync.Mutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithInspector sets the process liveness capability.
func WithInspector(in ProcessInspector) Option {
	return func(b *Bus) { b.matcher.Inspector = in }
}

// WithAgentPattern sets the regular expression agent command names must
// match to keep a subscriber active.
func WithAgentPattern(pattern string) Option {
	return func(b *Bus) { b.matcher = NewProcessMatcher(b.matcher.Inspector, pattern) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithProjectRoot records the project the bus belongs to.
func WithProjectRoot(root string) Option {
	return func(b *Bus) { b.projectRoot = root }
}

// WithBusID overrides the display id reported by Status.
func WithBusID(id string) Option {
	return func(b *Bus) { b.busID = id }
}

// New returns a bus rooted at dir. The directory is not created; see Init.
func New(dir string, opts ...Option) *Bus {
	b := &Bus{
		layout:  Layout{Root: dir},
		matcher: NewProcessMatcher(OSInspector{}, DefaultAgentPattern),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.projectRoot == "" {
		// .ufoo/bus -> project root
		b.projectRoot = filepath.Dir(filepath.Dir(dir))
	}
	b.queues = NewQueues(b.layout.QueuesDir())
	b.offsets = NewOffsets(b.layout.OffsetsDir())
	b.log = NewEventLog(b.layout.EventsDir())
	b.router = NewRouter(b.log, b.queues, b.offsets, NewSeqAllocator(b.layout, b.log), b.now)
	return b
}

// Layout returns the bus file layout.
func (b *Bus) Layout() Layout { return b.layout }

// Queues returns the queue manager.
func (b *Bus) Queues() *Queues { return b.queues }

// Log returns the global event log.
func (b *Bus) Log() *EventLog { return b.log }

// Initialized reports whether the bus directory exists.
func (b *Bus) Initialized() bool {
	info, err := os.Stat(b.layout.Root)
	return err == nil && info.IsDir()
}

// Init creates the directory tree and an empty registry. It reports false
// when the bus already existed.
func (b *Bus) Init() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Initialized() {
		return false, nil
	}
	for _, dir := range []string{
		b.layout.Root,
		b.layout.EventsDir(),
		b.layout.QueuesDir(),
		b.layout.LogsDir(),
		b.layout.OffsetsDir(),
	} {
		if err := store.EnsureDir(dir); err != nil {
			return false, fmt.Errorf("init bus: %w", err)
		}
	}
	if err := store.WriteJSON(b.layout.RegistryFile(), NewSnapshot(b.now())); err != nil {
		return false, fmt.Errorf("init bus: %w", err)
	}
	return true, nil
}

func (b *Bus) ensure() error {
	if !b.Initialized() {
		return fmt.Errorf("%s: %w", b.layout.Root, ErrNotInitialized)
	}
	return nil
}

// load reads the snapshot, falling back to an empty registry when the file
// is missing or corrupt, and reconciles presence. The reconciled snapshot
// is saved straight away when cleanup changed anything.
func (b *Bus) load() (*Registry, error) {
	if err := b.ensure(); err != nil {
		return nil, err
	}
	snap := NewSnapshot(b.now())
	store.ReadJSON(b.layout.RegistryFile(), snap)
	reg := NewRegistry(snap, b.matcher, b.now)
	if changed := reg.CleanupInactive(); len(changed) > 0 {
		if err := b.save(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (b *Bus) save(reg *Registry) error {
	if err := store.WriteJSON(b.layout.RegistryFile(), reg.Snapshot()); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Registry returns a reconciled registry snapshot for read-only use.
func (b *Bus) Registry() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

// Join registers (or refreshes) a subscriber.
func (b *Bus) Join(req JoinRequest) (JoinResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return JoinResult{}, err
	}
	res, err := reg.Join(req)
	if err != nil {
		return JoinResult{}, err
	}
	if err := b.queues.EnsureDir(res.SubscriberID); err != nil {
		return JoinResult{}, err
	}
	if err := b.queues.WriteTTY(res.SubscriberID, req.TTY); err != nil {
		return JoinResult{}, err
	}
	if err := b.save(reg); err != nil {
		return JoinResult{}, err
	}
	return res, nil
}

// Leave removes a subscriber together with its pending queue. It reports
// false when id is unknown.
func (b *Bus) Leave(id string) (bool, error) {
	if err := ValidateSubscriberID(id); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return false, err
	}
	if !reg.Leave(id) {
		return false, nil
	}
	if err := b.save(reg); err != nil {
		return false, err
	}
	return true, b.queues.Remove(id)
}

// Rename changes a subscriber's nickname.
func (b *Bus) Rename(id, nickname string) (RenameResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return RenameResult{}, err
	}
	res, err := reg.Rename(id, nickname)
	if err != nil {
		return RenameResult{}, err
	}
	return res, b.save(reg)
}

// Send publishes message to target on behalf of publisher.
func (b *Bus) Send(target, message, publisher string) (SendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return SendResult{}, err
	}
	if publisher == "" {
		publisher = "unknown"
	}
	return b.router.Send(reg, target, message, publisher)
}

// Broadcast sends message to every active subscriber.
func (b *Bus) Broadcast(message, publisher string) (SendResult, error) {
	return b.Send(Wildcard, message, publisher)
}

// Check returns the pending events of id without clearing them.
func (b *Bus) Check(id string) ([]Event, error) {
	if err := ValidateSubscriberID(id); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.load(); err != nil {
		return nil, err
	}
	return b.router.Check(id), nil
}

// Ack clears the pending queue of id.
func (b *Bus) Ack(id string) (int, error) {
	if err := ValidateSubscriberID(id); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.load(); err != nil {
		return 0, err
	}
	return b.router.Ack(id)
}

// Consume reads log events past the stored offset of id.
func (b *Bus) Consume(id string, fromBeginning bool) (ConsumeResult, error) {
	if err := ValidateSubscriberID(id); err != nil {
		return ConsumeResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.load(); err != nil {
		return ConsumeResult{}, err
	}
	return b.router.Consume(id, fromBeginning)
}

// Resolve finds the subscriber of targetType to talk to, excluding myID.
func (b *Bus) Resolve(myID, targetType string) (ResolveResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return ResolveResult{}, err
	}
	return b.router.Resolve(reg, myID, targetType), nil
}

// Cleanup runs presence reconciliation and returns the ids it deactivated.
func (b *Bus) Cleanup() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return nil, err
	}
	snap := NewSnapshot(b.now())
	store.ReadJSON(b.layout.RegistryFile(), snap)
	reg := NewRegistry(snap, b.matcher, b.now)
	changed := reg.CleanupInactive()
	if len(changed) == 0 {
		return nil, nil
	}
	return changed, b.save(reg)
}

// Events returns log events with seq > after, ordered by seq.
func (b *Bus) Events(after int64) ([]Event, error) {
	if err := b.ensure(); err != nil {
		return nil, err
	}
	return b.log.After(after), nil
}

// IsNotInitialized reports whether err means the bus directory is missing.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}
