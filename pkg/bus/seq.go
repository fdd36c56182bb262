package bus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"ufoo/pkg/store"
)

// claimWindow is how many recent claims are kept on disk. Claims below
// the counter minus this window can no longer be contended.
const claimWindow = 64

// maxClaimAttempts bounds the search for a free sequence number.
const maxClaimAttempts = 10000

// SeqAllocator hands out project-wide sequence numbers. A number is owned
// by whichever process first creates its claim file with O_EXCL, so two
// processes can never receive the same seq. The counter file only speeds
// up the search and is never lowered.
type SeqAllocator struct {
	counterPath string
	claimsDir   string
	log         *EventLog

	mu sync.Mutex
}

// NewSeqAllocator returns an allocator using layout's counter and claims.
func NewSeqAllocator(layout Layout, log *EventLog) *SeqAllocator {
	return &SeqAllocator{
		counterPath: layout.SeqFile(),
		claimsDir:   layout.SeqClaimsDir(),
		log:         log,
	}
}

// Current returns the last allocated seq as recorded on disk. When the
// counter file is missing it is recovered from the newest log shard.
func (a *SeqAllocator) Current() int64 {
	data, err := os.ReadFile(a.counterPath)
	if err == nil {
		if n, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil && n >= 0 {
			return n
		}
	}
	return a.log.LastSeq()
}

// Next claims and returns the next sequence number.
func (a *SeqAllocator) Next() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := store.EnsureDir(a.claimsDir); err != nil {
		return 0, err
	}

	base := a.Current()
	if last := a.log.LastSeq(); last > base {
		base = last
	}

	n := base + 1
	for attempt := 0; ; attempt++ {
		if attempt >= maxClaimAttempts {
			return 0, fmt.Errorf("allocate seq: no free number after %d attempts", maxClaimAttempts)
		}
		f, err := os.OpenFile(a.claimPath(n), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // path is constructed by the bus
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("claim seq %d: %w", n, err)
		}
		n++
	}

	if err := a.raiseCounter(n); err != nil {
		return 0, err
	}
	a.pruneClaims(n)
	return n, nil
}

func (a *SeqAllocator) claimPath(n int64) string {
	return filepath.Join(a.claimsDir, strconv.FormatInt(n, 10))
}

// raiseCounter writes n unless the counter already holds something larger.
func (a *SeqAllocator) raiseCounter(n int64) error {
	if a.Current() >= n {
		return nil
	}
	if err := store.WriteFileAtomic(a.counterPath, []byte(strconv.FormatInt(n, 10))); err != nil {
		return fmt.Errorf("save seq counter: %w", err)
	}
	return nil
}

func (a *SeqAllocator) pruneClaims(n int64) {
	entries, err := os.ReadDir(a.claimsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v > n-claimWindow {
			continue
		}
		_ = os.Remove(filepath.Join(a.claimsDir, e.Name()))
	}
}
