package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendAndReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	entries := []Entry{
		{
			AwemeID:   "7000000000000000001",
			Date:      "2024-03-01",
			Desc:      "first #tag",
			Tags:      []string{"tag"},
			FilePaths: []string{"author/video/2024-03-01-7000000000000000001-1.mp4"},
			Status:    "success",
		},
		{
			AwemeID:   "7000000000000000002",
			Status:    "failed",
			ErrorKind: "network",
		},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].AwemeID != "7000000000000000001" || got[0].Status != "success" {
		t.Errorf("first entry = %+v", got[0])
	}
	if len(got[0].FilePaths) != 1 {
		t.Errorf("first entry file paths = %v", got[0].FilePaths)
	}
	if got[1].ErrorKind != "network" {
		t.Errorf("second entry error kind = %q", got[1].ErrorKind)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Append should fill a zero timestamp")
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")

	w1, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w1.Append(Entry{AwemeID: "7000000000000000001", Status: "success"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w1.Close()

	// Reopening must not truncate previous entries
	w2, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter reopen: %v", err)
	}
	if err := w2.Append(Entry{AwemeID: "7000000000000000002", Status: "failed"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w2.Close()

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries after reopen, want 2", len(got))
	}
}

func TestReadAllSkipsTornLine(t *testing.T) {
	content := `{"aweme_id":"7000000000000000001","status":"success","timestamp":"2024-03-01T10:00:00Z"}
{"aweme_id":"7000000000000000002","sta`

	entries, err := ReadAll(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("read %d entries, want 1 (torn line skipped)", len(entries))
	}
	if entries[0].AwemeID != "7000000000000000001" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestReadFileMissing(t *testing.T) {
	entries, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if entries != nil {
		t.Errorf("missing file should yield nil entries, got %v", entries)
	}
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				entry := Entry{
					AwemeID:   fmt.Sprintf("70000000000000%02d%03d", n, j),
					Status:    "success",
					Timestamp: time.Now(),
				}
				if err := w.Append(entry); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}

	// Every line must parse: no interleaved records
	entries, err := ReadAll(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != writers*perWriter {
		t.Fatalf("parsed %d entries, want %d", len(entries), writers*perWriter)
	}
}
