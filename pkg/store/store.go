// Package store provides the flat-file primitives the bus is built on:
// atomic whole-file replacement, single-write JSON-Lines appends, and
// tolerant readers that degrade to empty values instead of failing.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// EnsureDir creates dir and any missing parents. It is idempotent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// WriteFileAtomic replaces path with data. The content is written to a
// sibling temp file first and renamed into place, so readers never observe
// a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // bus files are project-local and shared between agents
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the file at path into v. It reports false when the file
// is missing or does not hold valid JSON; v is left untouched in that case
// so callers can pre-populate it with defaults.
func ReadJSON(path string, v any) bool {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed by the bus
	if err != nil {
		return false
	}
	if !json.Valid(data) {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// WriteJSON atomically writes v as two-space indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// AppendLine appends line plus a trailing newline to path using a single
// write on a file opened with O_APPEND. Concurrent appenders from different
// processes therefore interleave at whole-line granularity.
func AppendLine(path string, line []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path is constructed by the bus
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// AppendJSONL marshals v onto a single line and appends it to path.
func AppendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return AppendLine(path, data)
}

// ReadLines returns the non-empty lines of path. A missing or unreadable
// file yields nil. Lines have no length cap, so one oversized record never
// hides the lines after it.
func ReadLines(path string) [][]byte {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed by the bus
	if err != nil {
		return nil
	}
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ReadJSONL decodes every line of path into a T. Lines that fail to decode
// are skipped so one corrupt record never hides the rest of the file.
func ReadJSONL[T any](path string) []T {
	var out []T
	for _, line := range ReadLines(path) {
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ReadLastLine returns the last non-empty line of path, or nil.
func ReadLastLine(path string) []byte {
	lines := ReadLines(path)
	if len(lines) == 0 {
		return nil
	}
	return lines[len(lines)-1]
}

// Truncate empties path. A missing file is not an error.
func Truncate(path string) error {
	err := os.Truncate(path, 0)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
