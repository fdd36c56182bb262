package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxMessageBytes caps the size of one message body. Larger messages are
// rejected before a seq is claimed.
const MaxMessageBytes = 1 << 20

// gapGrace is how long Consume waits for a missing seq to land. A sender
// claims its seq before appending, so a lower seq can reach the log after
// a higher one.
const gapGrace = 2 * time.Second

// Router computes delivery targets, appends events to the global log and
// fans them out to pending queues.
type Router struct {
	log     *EventLog
	queues  *Queues
	offsets *Offsets
	seq     *SeqAllocator
	now     func() time.Time
}

// NewRouter wires a router over the given stores.
func NewRouter(log *EventLog, queues *Queues, offsets *Offsets, seq *SeqAllocator, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{log: log, queues: queues, offsets: offsets, seq: seq, now: now}
}

// ResolveTargets maps target onto subscriber ids. Resolution order: exact
// registered id, nickname of an active subscriber, agent type of active
// subscribers, then the wildcard.
func (r *Router) ResolveTargets(reg *Registry, target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target: %w", ErrValidation)
	}
	if _, ok := reg.Get(target); ok {
		return []string{target}, nil
	}
	if sub, ok := reg.FindByNickname(target); ok {
		return []string{sub.ID}, nil
	}
	if subs := reg.ActiveOfType(target); len(subs) > 0 {
		return ids(subs), nil
	}
	if target == Wildcard {
		if subs := reg.ActiveSubscribers(); len(subs) > 0 {
			return ids(subs), nil
		}
	}
	return nil, fmt.Errorf("target %q: %w", target, ErrNoTargets)
}

// Send publishes message to target. The publisher is not removed from
// broadcast fan-out; echo filtering is left to consumers.
func (r *Router) Send(reg *Registry, target, message, publisher string) (SendResult, error) {
	if strings.TrimSpace(message) == "" {
		return SendResult{}, fmt.Errorf("empty message: %w", ErrValidation)
	}
	if len(message) > MaxMessageBytes {
		return SendResult{}, fmt.Errorf("message of %d bytes exceeds %d: %w", len(message), MaxMessageBytes, ErrValidation)
	}
	targets, err := r.ResolveTargets(reg, target)
	if err != nil {
		return SendResult{}, err
	}

	seq, err := r.seq.Next()
	if err != nil {
		return SendResult{}, err
	}

	now := r.now()
	evType := TypeTargeted
	if target == Wildcard {
		evType = TypeBroadcast
	}
	ev := Event{
		Seq:       seq,
		TS:        timestamp(now),
		Publisher: publisher,
		Target:    target,
		Event:     EventMessage,
		Type:      evType,
		Data:      map[string]any{"message": message},
	}
	if err := r.log.Append(ev, now); err != nil {
		return SendResult{}, err
	}

	// Each queue append is independent; one failure does not stop the rest.
	var errs []error
	for _, id := range targets {
		if err := r.queues.Append(id, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return SendResult{Seq: seq, Targets: targets}, errors.Join(errs...)
}

// Check returns the pending queue of id without clearing it.
func (r *Router) Check(id string) []Event {
	return r.queues.Read(id)
}

// Ack clears the whole pending queue of id and returns how many entries it
// held. Messages that arrived after the caller's last Check are cleared
// too.
func (r *Router) Ack(id string) (int, error) {
	return r.queues.Clear(id)
}

// Consume returns log events past the stored offset of id and advances the
// offset to the last returned seq. fromBeginning replays the whole log.
// Delivery stops short of a seq gap while the event after it is younger
// than gapGrace, so an append still in flight is not skipped for good.
// Older gaps are treated as seqs that were claimed but never written.
func (r *Router) Consume(id string, fromBeginning bool) (ConsumeResult, error) {
	offset := r.offsets.Get(id)
	after := offset
	if fromBeginning {
		after = 0
	}
	events := holdBackGap(r.log.After(after), after, r.now())
	if len(events) == 0 {
		return ConsumeResult{Consumed: []Event{}, NewOffset: offset}, nil
	}
	newOffset := events[len(events)-1].Seq
	if err := r.offsets.Set(id, newOffset); err != nil {
		return ConsumeResult{}, err
	}
	return ConsumeResult{Consumed: events, NewOffset: newOffset}, nil
}

// holdBackGap trims events at the first recent hole in the seq sequence.
func holdBackGap(events []Event, after int64, now time.Time) []Event {
	prev := after
	for i, ev := range events {
		if ev.Seq > prev+1 {
			if ts := ev.Time(); !ts.IsZero() && now.Sub(ts) < gapGrace {
				return events[:i]
			}
		}
		prev = ev.Seq
	}
	return events
}

// Resolve picks the subscriber of targetType to talk to, excluding myID.
func (r *Router) Resolve(reg *Registry, myID, targetType string) ResolveResult {
	var candidates []*Subscriber
	for _, sub := range reg.ActiveOfType(targetType) {
		if sub.ID != myID {
			candidates = append(candidates, sub)
		}
	}
	if len(candidates) == 1 {
		return ResolveResult{Single: candidates[0].ID}
	}
	return ResolveResult{Candidates: candidates}
}

func ids(subs []*Subscriber) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}
