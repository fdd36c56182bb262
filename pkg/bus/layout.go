package bus

import "path/filepath"

// Layout resolves every file the bus keeps under its root directory.
type Layout struct {
	Root string
}

// RegistryFile is the subscriber snapshot (bus.json).
func (l Layout) RegistryFile() string { return filepath.Join(l.Root, "bus.json") }

// EventsDir holds the per-day event log shards.
func (l Layout) EventsDir() string { return filepath.Join(l.Root, "events") }

// QueuesDir holds one directory per subscriber.
func (l Layout) QueuesDir() string { return filepath.Join(l.Root, "queues") }

// OffsetsDir holds consume cursors.
func (l Layout) OffsetsDir() string { return filepath.Join(l.Root, "offsets") }

// LogsDir holds daemon and alert logs.
func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// PidsDir holds alert watcher pid files.
func (l Layout) PidsDir() string { return filepath.Join(l.Root, "pids") }

// SeqFile stores the last allocated sequence number.
func (l Layout) SeqFile() string { return filepath.Join(l.Root, "seq") }

// SeqClaimsDir holds the exclusive-create claims for recent sequence numbers.
func (l Layout) SeqClaimsDir() string { return filepath.Join(l.Root, ".seq") }

// DaemonPIDFile is the daemon liveness marker.
func (l Layout) DaemonPIDFile() string { return filepath.Join(l.Root, ".daemon.pid") }

// DaemonSocket is the daemon control socket.
func (l Layout) DaemonSocket() string { return filepath.Join(l.Root, ".daemon.sock") }

// DaemonStatusFile records the last tick metadata.
func (l Layout) DaemonStatusFile() string { return filepath.Join(l.Root, ".daemon.status.json") }

// CronFile persists scheduled jobs.
func (l Layout) CronFile() string { return filepath.Join(l.Root, "cron.tasks.json") }

// HistoryDB is the derived SQLite event index.
func (l Layout) HistoryDB() string { return filepath.Join(l.Root, "history.db") }
