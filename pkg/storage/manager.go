package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	awemeIDPattern    = regexp.MustCompile(`\d{15,20}`)
	unsafeNamePattern = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
)

// mediaSuffixes are the extensions counted by the local id index
var mediaSuffixes = map[string]bool{
	".mp4": true, ".jpg": true, ".jpeg": true, ".png": true,
	".webp": true, ".gif": true, ".mp3": true, ".m4a": true,
}

// Manager handles media file storage under the output tree
// {base}/{author}/{kind}/{filename}
type Manager struct {
	baseDir string
	mu      sync.Mutex
}

// NewManager creates a new storage manager rooted at baseDir
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// BasePath returns the output root
func (m *Manager) BasePath() string {
	return m.baseDir
}

// Save writes one media file atomically and returns its path relative
// to the output root. Partially written files never become visible.
func (m *Manager) Save(r io.Reader, author, kind, filename string) (string, error) {
	dir := filepath.Join(m.baseDir, SanitizeFilename(author), SanitizeFilename(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	target := filepath.Join(dir, SanitizeFilename(filename))
	tempFile := target + ".tmp"

	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to save media data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	rel, err := filepath.Rel(m.baseDir, target)
	if err != nil {
		return target, nil
	}
	return rel, nil
}

// ScanIDs walks the output tree and returns every work id found in
// non-empty media filenames. Used as a secondary dedup signal: an id
// recorded as downloaded but absent on disk gets re-fetched.
func (m *Manager) ScanIDs() (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool)

	err := filepath.WalkDir(m.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if !mediaSuffixes[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() <= 0 {
			return nil
		}
		for _, id := range awemeIDPattern.FindAllString(d.Name(), -1) {
			ids[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan output tree: %w", err)
	}

	return ids, nil
}

// SanitizeFilename strips characters that are unsafe in file names
func SanitizeFilename(name string) string {
	cleaned := unsafeNamePattern.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "unknown"
	}
	// Keep names comfortably inside filesystem limits
	if len(cleaned) > 120 {
		cleaned = cleaned[:120]
	}
	return cleaned
}
