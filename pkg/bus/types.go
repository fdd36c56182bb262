package bus

import (
	"encoding/json"
	"time"
)

// Subscriber status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Agent types with special meaning on the bus.
const (
	AgentClaude  = "claude-code"
	AgentCodex   = "codex"
	AgentGeneric = "agent"

	// HiddenAgent is the internal pseudo-agent used by the daemon when it
	// publishes on behalf of scheduled jobs. It never shows up as active.
	HiddenAgent = "ufoo-agent"
)

// Event names and delivery types.
const (
	EventMessage = "message"

	TypeTargeted  = "message/targeted"
	TypeBroadcast = "message/broadcast"

	// Wildcard targets every active subscriber.
	Wildcard = "*"
)

// Subscriber is one registered agent identity.
type Subscriber struct {
	ID         string `json:"-"`
	AgentType  string `json:"agent_type"`
	Nickname   string `json:"nickname,omitempty"`
	Status     string `json:"status"`
	PID        int    `json:"pid,omitempty"`
	TTY        string `json:"tty,omitempty"`
	TmuxPane   string `json:"tmux_pane,omitempty"`
	LaunchMode string `json:"launch_mode,omitempty"`
	JoinedAt   string `json:"joined_at"`
	LastSeen   string `json:"last_seen"`
}

// Active reports whether the subscriber is currently marked active.
func (s *Subscriber) Active() bool {
	return s.Status == StatusActive
}

// Hidden reports whether the subscriber is the internal pseudo-agent.
func (s *Subscriber) Hidden() bool {
	return s.ID == HiddenAgent || s.Nickname == HiddenAgent || s.AgentType == HiddenAgent
}

// Snapshot is the persisted registry document (bus.json).
type Snapshot struct {
	CreatedAt   string                 `json:"created_at"`
	Subscribers map[string]*Subscriber `json:"subscribers"`
}

// UnmarshalJSON restores subscriber IDs from the map keys.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type raw Snapshot
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Subscribers == nil {
		r.Subscribers = make(map[string]*Subscriber)
	}
	for id, sub := range r.Subscribers {
		if sub == nil {
			delete(r.Subscribers, id)
			continue
		}
		sub.ID = id
	}
	*s = Snapshot(r)
	return nil
}

// NewSnapshot returns an empty registry snapshot stamped with now.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		CreatedAt:   timestamp(now),
		Subscribers: make(map[string]*Subscriber),
	}
}

// Event is an immutable record in the global log. The same record is
// appended to each target's pending queue.
type Event struct {
	Seq       int64          `json:"seq"`
	TS        string         `json:"ts"`
	Publisher string         `json:"publisher"`
	Target    string         `json:"target"`
	Event     string         `json:"event"`
	Type      string         `json:"type,omitempty"`
	Data      map[string]any `json:"data"`
}

// Message returns data.message as a string, or "" when absent.
func (e Event) Message() string {
	if e.Data == nil {
		return ""
	}
	if s, ok := e.Data["message"].(string); ok {
		return s
	}
	return ""
}

// Time parses the event timestamp. The zero time is returned on failure.
func (e Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		return time.Time{}
	}
	return t
}

// JoinRequest carries the arguments and liveness metadata for Join.
type JoinRequest struct {
	SessionID  string
	AgentType  string
	Nickname   string
	PID        int
	TTY        string
	TmuxPane   string
	LaunchMode string
}

// JoinResult is returned by Join.
type JoinResult struct {
	SubscriberID string `json:"subscriber"`
	Nickname     string `json:"nickname,omitempty"`
	Rejoined     bool   `json:"rejoined"`
}

// RenameResult is returned by Rename.
type RenameResult struct {
	SubscriberID string `json:"subscriber"`
	OldNickname  string `json:"old_nickname"`
	NewNickname  string `json:"new_nickname"`
}

// SendResult is returned by Send and Broadcast.
type SendResult struct {
	Seq     int64    `json:"seq"`
	Targets []string `json:"targets"`
}

// ConsumeResult is returned by Consume.
type ConsumeResult struct {
	Consumed  []Event `json:"consumed"`
	NewOffset int64   `json:"new_offset"`
}

// ResolveResult is returned by Resolve. Exactly one of Single or
// Candidates is meaningful: Single is set when one subscriber matched.
type ResolveResult struct {
	Single     string        `json:"single,omitempty"`
	Candidates []*Subscriber `json:"candidates,omitempty"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
