package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"douget/pkg/config"
	"douget/pkg/douyin"
	"douget/pkg/enumerate"
	"douget/pkg/history"
	"douget/pkg/manifest"
)

type nopLimiter struct{}

func (nopLimiter) Allow() bool { return true }
func (nopLimiter) Wait()       {}
func (nopLimiter) Reset()      {}

type fakeClient struct {
	mu      sync.Mutex
	details map[string]*douyin.Aweme
	media   map[string][]byte
}

func (f *fakeClient) FetchAwemeDetail(awemeID string) (*douyin.Aweme, error) {
	if a, ok := f.details[awemeID]; ok {
		return a, nil
	}
	return nil, &douyin.Error{Type: douyin.ErrorTypeNotFound, Message: "no detail"}
}

func (f *fakeClient) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.media[url]; ok {
		return data, nil
	}
	return nil, &douyin.Error{Type: douyin.ErrorTypeNotFound, Message: "no media"}
}

type fakeEnumerator struct {
	listings map[string]*enumerate.Listing
	errs     map[string]error
}

func (f *fakeEnumerator) Enumerate(ctx context.Context, secUID string, cursor int64) (*enumerate.Listing, error) {
	if err, ok := f.errs[secUID]; ok {
		return nil, err
	}
	if l, ok := f.listings[secUID]; ok {
		return l, nil
	}
	return &enumerate.Listing{}, nil
}

// fakeStore is an in-memory dedup store mirroring the SQLite semantics
type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]string
	writes   []string
	writeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]string)}
}

func (f *fakeStore) BulkFilter(ctx context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var remaining []string
	for _, id := range ids {
		if f.statuses[id] != "success" {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}

func (f *fakeStore) RecordOutcome(ctx context.Context, awemeID, status string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.statuses[awemeID] = status
	f.writes = append(f.writes, awemeID)
	return nil
}

type fakeManifest struct {
	mu        sync.Mutex
	entries   []manifest.Entry
	appendErr error
}

func (f *fakeManifest) Append(entry manifest.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeManifest) Sync() error { return nil }

type fakeMedia struct {
	mu     sync.Mutex
	onDisk map[string]bool
	saved  []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{onDisk: make(map[string]bool)}
}

func (f *fakeMedia) Save(r io.Reader, author, kind, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := author + "/" + kind + "/" + filename
	f.saved = append(f.saved, path)
	return path, nil
}

func (f *fakeMedia) ScanIDs() (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool, len(f.onDisk))
	for id := range f.onDisk {
		ids[id] = true
	}
	return ids, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Download.Concurrency = 2
	cfg.RateLimit.MaxRetries = 1
	return cfg
}

func videoAweme(id, secUID string) *douyin.Aweme {
	return &douyin.Aweme{
		AwemeID:    id,
		Desc:       "desc of " + id,
		CreateTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
		Author:     douyin.Author{SecUID: secUID, Nickname: "tester"},
		Video: douyin.Video{
			PlayAddr: douyin.URLContainer{URLList: []string{"https://v.example.com/" + id}},
		},
	}
}

func newTestEngine(cfg *config.Config, client *fakeClient, enum *fakeEnumerator, store *fakeStore, log *fakeManifest, media *fakeMedia) *Engine {
	return NewWithDeps(cfg, Deps{
		Client:     client,
		Enumerator: enum,
		Store:      store,
		Manifest:   log,
		Media:      media,
		Limiter:    nopLimiter{},
	}, nil)
}

func TestRunSingleVideo(t *testing.T) {
	id := "7000000000000000001"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{id: videoAweme(id, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + id: []byte("video")},
	}
	store := newFakeStore()
	log := &fakeManifest{}
	media := newFakeMedia()

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, log, media)
	summary, err := eng.Run(context.Background(), []string{"https://www.douyin.com/video/" + id})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Targets)
	assert.Equal(t, 1, summary.Enumerated)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.Success)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)

	require.Len(t, log.entries, 1)
	entry := log.entries[0]
	assert.Equal(t, id, entry.AwemeID)
	assert.Equal(t, "success", entry.Status)
	assert.Equal(t, "2024-03-01", entry.Date)
	assert.Equal(t, summary.RunID, entry.RunID)
	require.Len(t, entry.FilePaths, 1)

	assert.Equal(t, "success", store.statuses[id])
}

func TestRunIsIdempotent(t *testing.T) {
	id := "7000000000000000001"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{id: videoAweme(id, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + id: []byte("video")},
	}
	store := newFakeStore()
	log := &fakeManifest{}
	media := newFakeMedia()

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, log, media)
	target := []string{id}

	first, err := eng.Run(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Success)

	// The saved file is now on disk
	media.onDisk[id] = true

	second, err := eng.Run(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Dispatched)
	assert.Zero(t, second.Success)

	// No new manifest entries on the second run
	assert.Len(t, log.entries, 1)
}

func TestRunRefetchesWhenFilesMissing(t *testing.T) {
	id := "7000000000000000001"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{id: videoAweme(id, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + id: []byte("video")},
	}
	store := newFakeStore()
	store.statuses[id] = "success" // recorded, but nothing on disk

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, &fakeManifest{}, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{id})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dispatched, "missing files should force a re-fetch")
	assert.Equal(t, 1, summary.Success)
}

func TestRunForceRefetch(t *testing.T) {
	id := "7000000000000000001"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{id: videoAweme(id, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + id: []byte("video")},
	}
	store := newFakeStore()
	store.statuses[id] = "success"
	media := newFakeMedia()
	media.onDisk[id] = true

	cfg := testConfig()
	cfg.Download.ForceRefetch = true

	eng := newTestEngine(cfg, client, &fakeEnumerator{}, store, &fakeManifest{}, media)
	summary, err := eng.Run(context.Background(), []string{id})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dispatched)
	assert.Zero(t, summary.Skipped)
}

func TestRunProfileTarget(t *testing.T) {
	secUID := "MS4wLjABAAAAtester"
	ids := []string{"7000000000000000001", "7000000000000000002"}

	listing := &enumerate.Listing{User: &douyin.User{SecUID: secUID}}
	media := map[string][]byte{}
	for _, id := range ids {
		listing.Items = append(listing.Items, *videoAweme(id, secUID))
		media["https://v.example.com/"+id] = []byte("video")
	}

	client := &fakeClient{media: media}
	enum := &fakeEnumerator{listings: map[string]*enumerate.Listing{secUID: listing}}
	store := newFakeStore()
	log := &fakeManifest{}

	eng := newTestEngine(testConfig(), client, enum, store, log, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{"https://www.douyin.com/user/" + secUID})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Enumerated)
	assert.Equal(t, 2, summary.Success)
	assert.Len(t, log.entries, 2)
}

func TestRunIsolatesBlockedTarget(t *testing.T) {
	blockedUID := "MS4wLjABAAAAblocked"
	okID := "7000000000000000001"

	client := &fakeClient{
		details: map[string]*douyin.Aweme{okID: videoAweme(okID, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + okID: []byte("video")},
	}
	enum := &fakeEnumerator{errs: map[string]error{blockedUID: enumerate.ErrBlocked}}

	eng := newTestEngine(testConfig(), client, enum, newFakeStore(), &fakeManifest{}, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{
		"https://www.douyin.com/user/" + blockedUID,
		okID,
	})
	require.NoError(t, err, "a blocked target must not abort the run")

	assert.Equal(t, 1, summary.Success)
	assert.Contains(t, summary.FailedTargets, "https://www.douyin.com/user/"+blockedUID)
}

func TestRunRecordsUnrecognized(t *testing.T) {
	eng := newTestEngine(testConfig(), &fakeClient{}, &fakeEnumerator{}, newFakeStore(), &fakeManifest{}, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{"https://elsewhere.example.com/clip/1"})
	require.NoError(t, err)

	assert.Zero(t, summary.Targets)
	assert.Equal(t, []string{"https://elsewhere.example.com/clip/1"}, summary.Unrecognized)
}

func TestRunDeduplicatesAcrossTargets(t *testing.T) {
	id := "7000000000000000001"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{id: videoAweme(id, "MS4wTest")},
		media:   map[string][]byte{"https://v.example.com/" + id: []byte("video")},
	}

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, newFakeStore(), &fakeManifest{}, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{
		id,
		"https://www.douyin.com/video/" + id,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Enumerated, "same work from two targets collapses to one")
	assert.Equal(t, 1, summary.Success)
}

func TestRunCountsFailuresByKind(t *testing.T) {
	good := "7000000000000000001"
	bad := "7000000000000000002"
	client := &fakeClient{
		details: map[string]*douyin.Aweme{
			good: videoAweme(good, "MS4wTest"),
			bad:  videoAweme(bad, "MS4wTest"),
		},
		media: map[string][]byte{"https://v.example.com/" + good: []byte("video")},
		// bad's media URL is absent: download yields not_found
	}
	store := newFakeStore()
	log := &fakeManifest{}

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, log, newFakeMedia())
	summary, err := eng.Run(context.Background(), []string{good, bad})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.ErrorKinds["not_found"])

	// Failed attempts still land in both the manifest and the store
	assert.Len(t, log.entries, 2)
	assert.Equal(t, "failed", store.statuses[bad])
}

// manyVideoTargets builds a batch of fetchable works so the failure
// paths below are hit while items are still queued and in flight.
func manyVideoTargets(n int) (*fakeClient, []string) {
	client := &fakeClient{
		details: make(map[string]*douyin.Aweme),
		media:   make(map[string][]byte),
	}
	var ids []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("70000000000000000%02d", i)
		client.details[id] = videoAweme(id, "MS4wTest")
		client.media["https://v.example.com/"+id] = []byte("video")
		ids = append(ids, id)
	}
	return client, ids
}

func TestRunStoreWriteFailureIsFatal(t *testing.T) {
	client, ids := manyVideoTargets(8)
	store := newFakeStore()
	store.writeErr = fmt.Errorf("%w: disk gone", history.ErrStoreWrite)

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, &fakeManifest{}, newFakeMedia())
	_, err := eng.Run(context.Background(), ids)

	require.Error(t, err, "an unwritable dedup store must abort the run")
	assert.True(t, errors.Is(err, history.ErrStoreWrite))
}

func TestRunManifestAppendFailureIsFatal(t *testing.T) {
	client, ids := manyVideoTargets(8)
	log := &fakeManifest{appendErr: fmt.Errorf("write manifest.jsonl: no space left on device")}
	store := newFakeStore()

	eng := newTestEngine(testConfig(), client, &fakeEnumerator{}, store, log, newFakeMedia())
	_, err := eng.Run(context.Background(), ids)

	require.Error(t, err, "an unwritable manifest must abort the run")
	assert.Contains(t, err.Error(), "manifest append")
	// The failed append must not be recorded as a completed outcome
	assert.Empty(t, store.writes)
}
