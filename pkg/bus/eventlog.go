package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ufoo/pkg/store"
)

// EventLog is the append-only global log, sharded by UTC day.
type EventLog struct {
	dir string
}

// ShardStat summarizes one shard.
type ShardStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// NewEventLog returns an event log rooted at dir.
func NewEventLog(dir string) *EventLog {
	return &EventLog{dir: dir}
}

// ShardPath returns the shard file for the day containing t.
func (l *EventLog) ShardPath(t time.Time) string {
	return filepath.Join(l.dir, t.UTC().Format("2006-01-02")+".jsonl")
}

// Append writes ev to the shard for its timestamp.
func (l *EventLog) Append(ev Event, at time.Time) error {
	if err := store.AppendJSONL(l.ShardPath(at), ev); err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return nil
}

// Shards returns shard file names in chronological order.
func (l *EventLog) Shards() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// LastSeq returns the seq on the last line of the newest shard, or 0.
func (l *EventLog) LastSeq() int64 {
	shards := l.Shards()
	for i := len(shards) - 1; i >= 0; i-- {
		lines := store.ReadLines(filepath.Join(l.dir, shards[i]))
		for j := len(lines) - 1; j >= 0; j-- {
			var ev Event
			if err := json.Unmarshal(lines[j], &ev); err == nil && ev.Seq > 0 {
				return ev.Seq
			}
		}
	}
	return 0
}

// After returns every event with seq > after, ordered by seq. Corrupt lines
// are skipped. Concurrent appenders may land lines slightly out of order,
// so the result is sorted rather than trusted in file order.
func (l *EventLog) After(after int64) []Event {
	var out []Event
	for _, name := range l.Shards() {
		for _, ev := range store.ReadJSONL[Event](filepath.Join(l.dir, name)) {
			if ev.Seq > after {
				out = append(out, ev)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Stats returns per-shard line counts.
func (l *EventLog) Stats() []ShardStat {
	var stats []ShardStat
	for _, name := range l.Shards() {
		stats = append(stats, ShardStat{
			Name:  name,
			Count: len(store.ReadLines(filepath.Join(l.dir, name))),
		})
	}
	return stats
}
