package bus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry applies subscriber lifecycle operations to a snapshot. It never
// touches disk: the caller loads the snapshot, mutates it through the
// registry, and saves it when the operation succeeds.
type Registry struct {
	snap    *Snapshot
	matcher ProcessMatcher
	now     func() time.Time
}

// NewRegistry wraps snap. A nil snap starts an empty registry.
func NewRegistry(snap *Snapshot, matcher ProcessMatcher, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	if snap == nil {
		snap = NewSnapshot(now())
	}
	if snap.Subscribers == nil {
		snap.Subscribers = make(map[string]*Subscriber)
	}
	return &Registry{snap: snap, matcher: matcher, now: now}
}

// Snapshot returns the underlying snapshot for persistence.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap
}

// GenerateSessionID returns a random 8-character hex id.
func GenerateSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Get returns the subscriber with the given id.
func (r *Registry) Get(id string) (*Subscriber, bool) {
	sub, ok := r.snap.Subscribers[id]
	return sub, ok
}

// Join registers a subscriber or refreshes an existing one.
func (r *Registry) Join(req JoinRequest) (JoinResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = GenerateSessionID()
	}
	agentType := strings.TrimSpace(req.AgentType)
	if agentType == "" {
		agentType = AgentClaude
	}
	if strings.Contains(agentType, ":") {
		return JoinResult{}, fmt.Errorf("agent type %q: %w", agentType, ErrValidation)
	}
	id := agentType + ":" + sessionID
	if err := ValidateSubscriberID(id); err != nil {
		return JoinResult{}, err
	}
	nickname := strings.TrimSpace(req.Nickname)

	if nickname != "" {
		if err := r.claimNickname(id, nickname); err != nil {
			return JoinResult{}, err
		}
	}

	now := timestamp(r.now())
	sub, exists := r.snap.Subscribers[id]
	if !exists {
		sub = &Subscriber{ID: id, AgentType: agentType, JoinedAt: now}
		r.snap.Subscribers[id] = sub
	}
	sub.Status = StatusActive
	sub.LastSeen = now
	sub.PID = req.PID
	if req.TTY != "" {
		sub.TTY = req.TTY
	}
	if req.TmuxPane != "" {
		sub.TmuxPane = req.TmuxPane
	}
	if req.LaunchMode != "" {
		sub.LaunchMode = req.LaunchMode
	}
	if nickname != "" {
		sub.Nickname = nickname
	}

	return JoinResult{SubscriberID: id, Nickname: sub.Nickname, Rejoined: exists}, nil
}

// Leave removes the subscriber entry. It reports false when id is unknown.
func (r *Registry) Leave(id string) bool {
	if _, ok := r.snap.Subscribers[id]; !ok {
		return false
	}
	delete(r.snap.Subscribers, id)
	return true
}

// Rename changes a subscriber's nickname.
func (r *Registry) Rename(id, nickname string) (RenameResult, error) {
	sub, ok := r.snap.Subscribers[id]
	if !ok {
		return RenameResult{}, fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return RenameResult{}, fmt.Errorf("empty nickname: %w", ErrValidation)
	}
	if err := r.claimNickname(id, nickname); err != nil {
		return RenameResult{}, err
	}
	old := sub.Nickname
	sub.Nickname = nickname
	sub.LastSeen = timestamp(r.now())
	return RenameResult{SubscriberID: id, OldNickname: old, NewNickname: nickname}, nil
}

// claimNickname fails when another active subscriber holds nickname. An
// inactive holder loses the nickname so it cannot collide on rejoin.
func (r *Registry) claimNickname(id, nickname string) error {
	for otherID, other := range r.snap.Subscribers {
		if otherID == id || other.Nickname != nickname {
			continue
		}
		if other.Active() {
			return fmt.Errorf("nickname %q held by %s: %w", nickname, otherID, ErrNicknameTaken)
		}
		other.Nickname = ""
	}
	return nil
}

// CleanupInactive marks active subscribers whose recorded pid is no longer a
// live, recognized agent process as inactive. It returns the ids it changed
// and is a no-op when nothing is stale.
func (r *Registry) CleanupInactive() []string {
	if r.matcher.Inspector == nil {
		return nil
	}
	var changed []string
	for id, sub := range r.snap.Subscribers {
		if !sub.Active() || sub.PID <= 0 {
			continue
		}
		if r.matcher.Alive(sub.PID) {
			continue
		}
		sub.Status = StatusInactive
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}

// ActiveSubscribers returns active, non-hidden subscribers sorted by id.
func (r *Registry) ActiveSubscribers() []*Subscriber {
	var out []*Subscriber
	for _, sub := range r.snap.Subscribers {
		if sub.Active() && !sub.Hidden() {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every registered subscriber sorted by id.
func (r *Registry) All() []*Subscriber {
	out := make([]*Subscriber, 0, len(r.snap.Subscribers))
	for _, sub := range r.snap.Subscribers {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByNickname returns the active subscriber holding nickname.
func (r *Registry) FindByNickname(nickname string) (*Subscriber, bool) {
	for _, sub := range r.snap.Subscribers {
		if sub.Active() && sub.Nickname != "" && sub.Nickname == nickname {
			return sub, true
		}
	}
	return nil, false
}

// ActiveOfType returns active, non-hidden subscribers of agentType.
func (r *Registry) ActiveOfType(agentType string) []*Subscriber {
	var out []*Subscriber
	for _, sub := range r.ActiveSubscribers() {
		if sub.AgentType == agentType {
			out = append(out, sub)
		}
	}
	return out
}
