// Package engine orchestrates a batch run: resolving identifiers,
// enumerating profiles, filtering against the dedup store, dispatching
// fetches to the worker pool, and draining results into the manifest
// log and the dedup store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"douget/internal/downloader"
	"douget/pkg/config"
	"douget/pkg/douyin"
	"douget/pkg/enumerate"
	"douget/pkg/history"
	"douget/pkg/logger"
	"douget/pkg/manifest"
	"douget/pkg/ratelimit"
	"douget/pkg/resolve"
	"douget/pkg/storage"
)

// State names the phases of a run, in order
type State string

const (
	StateResolving   State = "resolving"
	StateEnumerating State = "enumerating"
	StateFiltering   State = "filtering"
	StateDispatching State = "dispatching"
	StateDraining    State = "draining"
	StateDone        State = "done"
)

// Client is the platform surface the engine needs directly
type Client interface {
	FetchAwemeDetail(awemeID string) (*douyin.Aweme, error)
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// Enumerator expands a profile into its works
type Enumerator interface {
	Enumerate(ctx context.Context, secUID string, cursor int64) (*enumerate.Listing, error)
}

// DedupStore is the durable record of prior outcomes
type DedupStore interface {
	BulkFilter(ctx context.Context, ids []string) ([]string, error)
	RecordOutcome(ctx context.Context, awemeID, status string, at time.Time) error
}

// ManifestLog is the append-only audit log of fetch attempts
type ManifestLog interface {
	Append(entry manifest.Entry) error
	Sync() error
}

// MediaStore persists fetched media and indexes what is on disk
type MediaStore interface {
	Save(r io.Reader, author, kind, filename string) (string, error)
	ScanIDs() (map[string]bool, error)
}

// Summary is the outcome report of one run
type Summary struct {
	RunID    string
	Duration time.Duration

	// Targets is the count of recognized input identifiers
	Targets int
	// Unrecognized holds inputs that matched no known shape
	Unrecognized []string
	// FailedTargets maps a target's raw identifier to why it failed;
	// one blocked profile never aborts the others
	FailedTargets map[string]string
	// TruncatedTargets lists profiles whose enumeration kept partial results
	TruncatedTargets []string

	// Enumerated is the total works discovered across all targets
	Enumerated int
	// Skipped is how many were filtered out as already fetched
	Skipped int
	// Dispatched is how many went to the worker pool
	Dispatched int

	Success int
	Partial int
	Failed  int
	// ErrorKinds counts failures by classified kind
	ErrorKinds map[string]int
}

// Engine drives a batch run end to end
type Engine struct {
	cfg        *config.Config
	client     Client
	enumerator Enumerator
	store      DedupStore
	log        ManifestLog
	media      MediaStore
	limiter    ratelimit.Limiter
	logger     logger.Logger

	closers []io.Closer
}

// Deps lets tests assemble an Engine from fakes
type Deps struct {
	Client     Client
	Enumerator Enumerator
	Store      DedupStore
	Manifest   ManifestLog
	Media      MediaStore
	Limiter    ratelimit.Limiter
}

// NewWithDeps creates an Engine from pre-built dependencies
func NewWithDeps(cfg *config.Config, deps Deps, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		cfg:        cfg,
		client:     deps.Client,
		enumerator: deps.Enumerator,
		store:      deps.Store,
		log:        deps.Manifest,
		media:      deps.Media,
		limiter:    deps.Limiter,
		logger:     log,
	}
}

// New creates an Engine with its production dependencies wired from cfg
func New(cfg *config.Config, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	client := douyin.NewClient(cfg.Download.DownloadTimeout, cfg.Fallback.Timeout, log)
	if cfg.Douyin.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.Douyin.UserAgent)
	}
	client.SetCookie(cfg.Douyin.Cookie)

	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerSecond, time.Second)

	media, err := storage.NewManager(cfg.Output.BaseDirectory)
	if err != nil {
		return nil, fmt.Errorf("create storage manager: %w", err)
	}

	store, err := history.Open(cfg.HistoryPath(), log)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	manifestLog, err := manifest.NewWriter(cfg.ManifestPath())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open manifest log: %w", err)
	}

	enumerator := enumerate.New(client, client, client, client, limiter, enumerate.Policy{
		FallbackEnabled:  cfg.Fallback.Enabled,
		MinExpectedRatio: cfg.Fallback.MinExpectedRatio,
		FallbackTimeout:  cfg.Fallback.Timeout,
	}, log)

	return &Engine{
		cfg:        cfg,
		client:     client,
		enumerator: enumerator,
		store:      store,
		log:        manifestLog,
		media:      media,
		limiter:    limiter,
		logger:     log,
		closers:    []io.Closer{manifestLog, store},
	}, nil
}

// Close releases the engine's durable resources
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run processes the given identifiers end to end and returns the run
// summary. Per-target failures are isolated into the summary; only
// infrastructure failures (dedup store, manifest log) abort the run.
func (e *Engine) Run(ctx context.Context, identifiers []string) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:         uuid.New().String(),
		FailedTargets: make(map[string]string),
		ErrorKinds:    make(map[string]int),
	}

	e.logger.InfoWithFields("run started", map[string]interface{}{
		"run_id":  summary.RunID,
		"targets": len(identifiers),
	})

	targets := e.resolveTargets(identifiers, summary)
	awemes := e.enumerateTargets(ctx, targets, summary)

	items, err := e.filterAndBuild(ctx, awemes, summary)
	if err != nil {
		return summary, err
	}

	if err := e.dispatchAndDrain(ctx, items, summary); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	e.setState(StateDone)
	e.logger.InfoWithFields("run finished", map[string]interface{}{
		"run_id":     summary.RunID,
		"enumerated": summary.Enumerated,
		"skipped":    summary.Skipped,
		"success":    summary.Success,
		"partial":    summary.Partial,
		"failed":     summary.Failed,
		"duration":   summary.Duration,
	})

	return summary, nil
}

func (e *Engine) setState(s State) {
	e.logger.WithField("state", string(s)).Debug("run state changed")
}

// resolveTargets classifies every input identifier, collecting the
// unrecognized ones into the summary instead of failing the run
func (e *Engine) resolveTargets(identifiers []string, summary *Summary) []resolve.Target {
	e.setState(StateResolving)

	var targets []resolve.Target
	for _, identifier := range identifiers {
		target, err := resolve.Resolve(identifier)
		if err != nil {
			e.logger.WithError(err).WithField("identifier", identifier).Warn("skipping unrecognized identifier")
			summary.Unrecognized = append(summary.Unrecognized, identifier)
			continue
		}
		targets = append(targets, target)
	}
	summary.Targets = len(targets)
	return targets
}

// enumerateTargets expands every target into concrete works. A blocked
// or failed target is recorded and skipped; duplicates across targets
// collapse to the first occurrence.
func (e *Engine) enumerateTargets(ctx context.Context, targets []resolve.Target, summary *Summary) []douyin.Aweme {
	e.setState(StateEnumerating)

	var awemes []douyin.Aweme
	seen := make(map[string]bool)

	appendAweme := func(a douyin.Aweme) {
		if a.AwemeID == "" || seen[a.AwemeID] {
			return
		}
		seen[a.AwemeID] = true
		awemes = append(awemes, a)
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}

		switch target.Kind {
		case resolve.TargetVideo:
			e.limiter.Wait()
			detail, err := e.client.FetchAwemeDetail(target.AwemeID)
			if err != nil {
				e.logger.WithError(err).WithField("aweme_id", target.AwemeID).Warn("detail fetch failed")
				summary.FailedTargets[target.Raw] = err.Error()
				continue
			}
			appendAweme(*detail)

		case resolve.TargetProfile:
			listing, err := e.enumerator.Enumerate(ctx, target.SecUID, 0)
			if err != nil {
				if errors.Is(err, enumerate.ErrBlocked) {
					e.logger.WithError(err).WithField("sec_uid", target.SecUID).Error("profile enumeration blocked")
				} else {
					e.logger.WithError(err).WithField("sec_uid", target.SecUID).Warn("profile enumeration failed")
				}
				summary.FailedTargets[target.Raw] = err.Error()
				continue
			}
			if listing.Truncated {
				summary.TruncatedTargets = append(summary.TruncatedTargets, target.Raw)
			}
			for _, item := range listing.Items {
				appendAweme(item)
			}
		}
	}

	summary.Enumerated = len(awemes)
	return awemes
}

// filterAndBuild drops already-fetched works and converts the rest into
// work items. The dedup store's answer is cross-checked against the
// on-disk index: a work recorded as fetched but missing from disk is
// re-dispatched.
func (e *Engine) filterAndBuild(ctx context.Context, awemes []douyin.Aweme, summary *Summary) ([]downloader.WorkItem, error) {
	e.setState(StateFiltering)

	byID := make(map[string]douyin.Aweme, len(awemes))
	ids := make([]string, 0, len(awemes))
	for _, a := range awemes {
		byID[a.AwemeID] = a
		ids = append(ids, a.AwemeID)
	}

	wanted := ids
	if !e.cfg.Download.ForceRefetch {
		remaining, err := e.store.BulkFilter(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("dedup filter: %w", err)
		}

		keep := make(map[string]bool, len(remaining))
		for _, id := range remaining {
			keep[id] = true
		}

		onDisk, err := e.media.ScanIDs()
		if err != nil {
			e.logger.WithError(err).Warn("local file index unavailable, trusting dedup store")
			onDisk = nil
		}

		wanted = wanted[:0]
		for _, id := range ids {
			if keep[id] {
				wanted = append(wanted, id)
				continue
			}
			// Recorded as fetched but the files are gone
			if onDisk != nil && !onDisk[id] {
				e.logger.WithField("aweme_id", id).Info("recorded work missing on disk, re-fetching")
				wanted = append(wanted, id)
			}
		}
	}

	summary.Skipped = len(ids) - len(wanted)

	items := make([]downloader.WorkItem, 0, len(wanted))
	for _, id := range wanted {
		aweme := byID[id]
		items = append(items, buildWorkItem(&aweme, e.cfg.Download.Cover, e.cfg.Download.Music))
	}
	summary.Dispatched = len(items)

	return items, nil
}

// dispatchAndDrain runs the worker pool over the items and drains every
// result into the manifest log and then the dedup store. The manifest
// entry lands first so the store can always be rebuilt from it.
func (e *Engine) dispatchAndDrain(ctx context.Context, items []downloader.WorkItem, summary *Summary) error {
	if len(items) == 0 {
		return nil
	}

	e.setState(StateDispatching)

	pool := downloader.NewWorkerPool(
		ctx,
		e.cfg.Download.Concurrency,
		e.cfg.RateLimit.MaxRetries,
		e.client,
		e.media,
		e.limiter,
		e.logger,
	)
	pool.Start()

	go func() {
		for _, item := range items {
			if err := pool.Submit(item); err != nil {
				break
			}
		}
		pool.Stop()
	}()

	e.setState(StateDraining)

	for result := range pool.Results() {
		entry := manifest.Entry{
			AwemeID:   result.Item.ID,
			Date:      result.Item.PublishedDate,
			Desc:      result.Item.Desc,
			Tags:      result.Item.Tags,
			FilePaths: result.FilePaths,
			Status:    result.Status,
			ErrorKind: result.ErrorKind,
			Timestamp: time.Now(),
			RunID:     summary.RunID,
		}
		// An unwritable manifest or store means outcomes can no longer be
		// recorded durably; the pool is aborted so blocked workers and the
		// submit goroutine unwind instead of waiting on a drain that quit.
		if err := e.log.Append(entry); err != nil {
			pool.Abort()
			return fmt.Errorf("manifest append: %w", err)
		}
		if err := e.store.RecordOutcome(ctx, result.Item.ID, result.Status, entry.Timestamp); err != nil {
			pool.Abort()
			return err
		}

		switch result.Status {
		case downloader.StatusSuccess:
			summary.Success++
		case downloader.StatusPartial:
			summary.Partial++
		default:
			summary.Failed++
		}
		if result.ErrorKind != "" {
			summary.ErrorKinds[result.ErrorKind]++
		}
	}

	if err := e.log.Sync(); err != nil {
		e.logger.WithError(err).Warn("manifest sync failed")
	}

	return nil
}

// buildWorkItem converts a work into the pool's input shape
func buildWorkItem(a *douyin.Aweme, includeCover, includeMusic bool) downloader.WorkItem {
	kind := downloader.KindVideo
	if a.IsGallery() {
		kind = downloader.KindGallery
	}

	author := a.Author.Nickname
	if author == "" {
		author = a.Author.SecUID
	}

	return downloader.WorkItem{
		ID:            a.AwemeID,
		Kind:          kind,
		Author:        author,
		PublishedDate: time.Unix(a.CreateTime, 0).Format("2006-01-02"),
		Desc:          a.Desc,
		Tags:          a.Tags(),
		MediaRefs:     a.MediaRefs(includeCover, includeMusic),
	}
}
