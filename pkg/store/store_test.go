package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type record struct {
	N    int    `json:"n"`
	Name string `json:"name"`
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file keeps defaults", func(t *testing.T) {
		v := record{N: 7}
		if ReadJSON(filepath.Join(dir, "nope.json"), &v) {
			t.Fatal("expected false for missing file")
		}
		if v.N != 7 {
			t.Errorf("default overwritten: %+v", v)
		}
	})

	t.Run("corrupt file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		v := record{N: 3}
		if ReadJSON(path, &v) {
			t.Fatal("expected false for corrupt file")
		}
		if v.N != 3 {
			t.Errorf("default overwritten: %+v", v)
		}
	})

	t.Run("round trip through WriteJSON", func(t *testing.T) {
		path := filepath.Join(dir, "nested", "ok.json")
		if err := WriteJSON(path, record{N: 42, Name: "x"}); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
		raw, err := os.ReadFile(path) //nolint:gosec // test path
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "\n  ") {
			t.Errorf("expected indented JSON, got %q", raw)
		}
		var got record
		if !ReadJSON(path, &got) {
			t.Fatal("ReadJSON returned false")
		}
		if got.N != 42 || got.Name != "x" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.json")
	for i := 0; i < 5; i++ {
		if err := WriteFileAtomic(path, []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("WriteFileAtomic: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only bus.json, got %d entries", len(entries))
	}
}

func TestAppendJSONL_ConcurrentWritersProduceWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q", "pending.jsonl")

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := AppendJSONL(path, record{N: w*perWriter + i, Name: strings.Repeat("x", 200)}); err != nil {
					t.Errorf("AppendJSONL: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	lines := ReadLines(path)
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	recs := ReadJSONL[record](path)
	if len(recs) != writers*perWriter {
		t.Errorf("decoded %d records, want %d (interleaved lines?)", len(recs), writers*perWriter)
	}
}

func TestReadJSONL_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := "{\"n\":1}\nnot-json\n\n{\"n\":2}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	recs := ReadJSONL[record](path)
	if len(recs) != 2 || recs[0].N != 1 || recs[1].N != 2 {
		t.Errorf("got %+v", recs)
	}
	if last := string(ReadLastLine(path)); last != "{\"n\":2}" {
		t.Errorf("ReadLastLine = %q", last)
	}
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	if err := Truncate(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("Truncate on missing file: %v", err)
	}
	path := filepath.Join(dir, "pending.jsonl")
	if err := AppendLine(path, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := Truncate(path); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if n := len(ReadLines(path)); n != 0 {
		t.Errorf("expected empty file, got %d lines", n)
	}
}

func TestReadLines_OversizedLineDoesNotHideLaterLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.jsonl")
	huge := `{"n":1,"name":"` + strings.Repeat("x", 17*1024*1024) + `"}`
	content := huge + "\n" + "{\"n\":2}\n" + "garbage\n" + "{\"n\":3,\"name\":\"small\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	lines := ReadLines(path)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	recs := ReadJSONL[record](path)
	if len(recs) != 3 {
		t.Fatalf("decoded %d records, want 3", len(recs))
	}
	if recs[2].N != 3 || recs[2].Name != "small" {
		t.Errorf("last record = %+v", recs[2])
	}
	if last := string(ReadLastLine(path)); !strings.Contains(last, "small") {
		t.Errorf("ReadLastLine = %.40q", last)
	}
}
