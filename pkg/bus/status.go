package bus

import (
	"path/filepath"
	"sort"
)

// ActiveInfo describes one active subscriber for status displays.
type ActiveInfo struct {
	ID         string `json:"id"`
	Nickname   string `json:"nickname,omitempty"`
	Display    string `json:"display"`
	LaunchMode string `json:"launch_mode"`
}

// Unread counts pending queue entries.
type Unread struct {
	Total         int            `json:"total"`
	PerSubscriber map[string]int `json:"per_subscriber"`
}

// Status is a point-in-time summary of the bus.
type Status struct {
	BusID       string       `json:"bus_id"`
	Subscribers []string     `json:"subscribers"`
	Active      []ActiveInfo `json:"active"`
	Unread      Unread       `json:"unread"`
	Shards      []ShardStat  `json:"shards"`
	TotalEvents int          `json:"total_events"`
}

// Status reconciles presence and summarizes subscribers, unread counts and
// event log statistics.
func (b *Bus) Status() (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := b.load()
	if err != nil {
		return Status{}, err
	}

	busID := b.busID
	if busID == "" {
		busID = filepath.Base(b.projectRoot)
	}
	if busID == "" || busID == "." || busID == string(filepath.Separator) {
		busID = "ai-workspace"
	}
	st := Status{
		BusID:  busID,
		Unread: Unread{PerSubscriber: make(map[string]int)},
		Shards: b.log.Stats(),
	}
	for _, sub := range reg.All() {
		st.Subscribers = append(st.Subscribers, sub.ID)
	}
	for _, sub := range reg.ActiveSubscribers() {
		display := sub.Nickname
		if display == "" {
			display = sub.ID
		}
		mode := sub.LaunchMode
		if mode == "" {
			mode = "unknown"
		}
		st.Active = append(st.Active, ActiveInfo{ID: sub.ID, Nickname: sub.Nickname, Display: display, LaunchMode: mode})
	}

	ids := b.queues.Subscribers()
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := reg.Get(id); !ok {
			continue
		}
		if n := b.queues.Count(id); n > 0 {
			st.Unread.Total += n
			st.Unread.PerSubscriber[id] = n
		}
	}
	for _, s := range st.Shards {
		st.TotalEvents += s.Count
	}
	return st, nil
}
