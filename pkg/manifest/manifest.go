// Package manifest is the append-only audit log of every fetch attempt.
// Each line is a self-contained JSON record; the log is the durable
// history of what happened, independent of the dedup store's current view.
package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one immutable audit line per attempted work item
type Entry struct {
	AwemeID   string    `json:"aweme_id"`
	Date      string    `json:"date"`
	Desc      string    `json:"desc"`
	Tags      []string  `json:"tags"`
	FilePaths []string  `json:"file_paths"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
}

// Writer appends entries to a newline-delimited log. Append is the only
// mutation; it is safe to call from multiple workers.
type Writer struct {
	file *os.File
	mu   sync.Mutex
}

// NewWriter opens (creating if needed) the manifest log at path
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ensure manifest dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open manifest log: %w", err)
	}

	return &Writer{file: file}, nil
}

// Append writes one entry as a single line. The line is marshaled fully
// before the write so a crash never leaves interleaved records.
func (w *Writer) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal manifest entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append manifest entry: %w", err)
	}
	return nil
}

// Sync flushes the log to stable storage
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close closes the underlying log file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll parses every entry of a manifest log, one line at a time.
// A torn final line (crash mid-append) is skipped rather than failing
// the whole read.
func ReadAll(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entries []Entry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read manifest: %w", err)
	}

	return entries, nil
}

// ReadFile parses every entry of the manifest log at path. A missing
// file yields no entries and no error.
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	return ReadAll(file)
}
