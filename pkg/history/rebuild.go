package history

import (
	"context"
	"time"

	"douget/pkg/manifest"
)

// RebuildFromManifest replays manifest entries into the store. The
// rebuild is lossy (first-seen times become the entry timestamps) but
// restores dedup correctness after a lost or corrupted store: for each
// id the latest entry's status wins, matching live behavior where the
// record always reflects the most recent outcome.
func (s *Store) RebuildFromManifest(ctx context.Context, entries []manifest.Entry) error {
	latest := make(map[string]manifest.Entry, len(entries))
	for _, entry := range entries {
		if entry.AwemeID == "" || entry.Status == "" {
			continue
		}
		if prev, ok := latest[entry.AwemeID]; !ok || entry.Timestamp.After(prev.Timestamp) {
			latest[entry.AwemeID] = entry
		}
	}

	for id, entry := range latest {
		at := entry.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		if err := s.RecordOutcome(ctx, id, entry.Status, at); err != nil {
			return err
		}
	}

	s.logger.InfoWithFields("history rebuilt from manifest", map[string]interface{}{
		"entries": len(entries),
		"records": len(latest),
	})

	return nil
}
