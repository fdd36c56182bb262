package bus

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFunc receives entries appended since the previous call and the
// current queue length.
type WatchFunc func(added []Event, total int)

// Watch polls the pending queue of id every interval until ctx is done and
// calls fn whenever it grew. A shrinking queue (ack) re-bases the count
// silently. Polling is authoritative; when a file watcher can be set up on
// the queue directory it only wakes the loop early.
func (b *Bus) Watch(ctx context.Context, id string, interval time.Duration, fn WatchFunc) error {
	if err := ValidateSubscriberID(id); err != nil {
		return err
	}
	if err := b.ensure(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Second
	}
	if err := b.queues.EnsureDir(id); err != nil {
		return err
	}

	wake := b.watchQueueDir(ctx, id)

	last := len(b.queues.Read(id))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}

		entries := b.queues.Read(id)
		total := len(entries)
		if total > last {
			fn(entries[last:], total)
		}
		last = total
	}
}

// watchQueueDir returns a channel that fires on writes in the queue
// directory. It returns nil (never fires) when fsnotify is unavailable.
func (b *Bus) watchQueueDir(ctx context.Context, id string) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := watcher.Add(b.queues.Dir(id)); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", b.queues.Dir(id), err)
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("fsnotify: watcher error: %v", err)
			}
		}
	}()
	return wake
}
