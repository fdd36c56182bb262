package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ufoo/pkg/store"
)

// Offsets stores consume cursors, one file per subscriber holding the last
// consumed seq.
type Offsets struct {
	dir string
}

// NewOffsets returns an offset store rooted at dir.
func NewOffsets(dir string) *Offsets {
	return &Offsets{dir: dir}
}

func (o *Offsets) path(id string) string {
	return filepath.Join(o.dir, SubscriberToSafeName(id))
}

// Get returns the stored offset. Missing or corrupt files read as 0.
func (o *Offsets) Get(id string) int64 {
	data, err := os.ReadFile(o.path(id)) //nolint:gosec // path is constructed by the bus
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Set persists the offset for id.
func (o *Offsets) Set(id string, offset int64) error {
	if err := store.WriteFileAtomic(o.path(id), []byte(strconv.FormatInt(offset, 10))); err != nil {
		return fmt.Errorf("save offset for %s: %w", id, err)
	}
	return nil
}
