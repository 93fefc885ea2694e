package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"douget/pkg/douyin"
	"douget/pkg/logger"
	"douget/pkg/ratelimit"
	"douget/pkg/retry"
)

// Kind distinguishes the two work item shapes
type Kind string

const (
	KindVideo   Kind = "video"
	KindGallery Kind = "gallery"
)

// Statuses of a fetch attempt
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// WorkItem is one downloadable unit. Immutable once created.
type WorkItem struct {
	ID            string
	Kind          Kind
	Author        string
	PublishedDate string
	Desc          string
	Tags          []string
	MediaRefs     []douyin.MediaRef
}

// FetchResult is the outcome of one work item's fetch
type FetchResult struct {
	Item      WorkItem
	Status    string
	ErrorKind string
	Err       error
	FilePaths []string
	Duration  time.Duration
}

// MediaFetcher downloads one media location
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// MediaStorage persists one media file and returns its stored path
type MediaStorage interface {
	Save(r io.Reader, author, kind, filename string) (string, error)
}

// WorkerPool manages concurrent work item fetches. Per-item failures
// are converted to FetchResults and never abort sibling items.
type WorkerPool struct {
	numWorkers  int
	maxRetries  int
	jobQueue    chan WorkItem
	resultQueue chan FetchResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     MediaFetcher
	storage     MediaStorage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a new fetch worker pool
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	maxRetries int,
	fetcher MediaFetcher,
	storage MediaStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		maxRetries:  maxRetries,
		jobQueue:    make(chan WorkItem, numWorkers*2),
		resultQueue: make(chan FetchResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		storage:     storage,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop signals that no more items will be submitted and waits for the
// in-flight ones to finish, then closes the result channel
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("worker pool stopped")
}

// Abort cancels in-flight work without waiting for it. Used when the
// result consumer cannot keep draining; pending submits unblock with an
// error and workers stop picking up items.
func (wp *WorkerPool) Abort() {
	wp.cancel()
}

// Submit adds a work item to the queue
func (wp *WorkerPool) Submit(item WorkItem) error {
	select {
	case wp.jobQueue <- item:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel for consuming fetch results
func (wp *WorkerPool) Results() <-chan FetchResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for item := range wp.jobQueue {
		// No new items are processed after cancellation; the one in
		// hand is allowed to finish so no file is torn mid-write.
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processItem(item, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processItem fetches a work item's media refs in order. The item is
// success only when every required ref is stored; partial when a prefix
// of a gallery made it to disk.
func (wp *WorkerPool) processItem(item WorkItem, workerID int) FetchResult {
	start := time.Now()
	result := FetchResult{Item: item, Status: StatusFailed}

	wp.logger.DebugWithFields("worker processing item", map[string]interface{}{
		"worker_id": workerID,
		"aweme_id":  item.ID,
		"kind":      string(item.Kind),
		"refs":      len(item.MediaRefs),
	})

	if len(item.MediaRefs) == 0 {
		result.Err = &douyin.Error{
			Type:    douyin.ErrorTypeNotFound,
			Message: "no fetchable media source",
		}
		result.ErrorKind = string(douyin.ErrorTypeNotFound)
		result.Duration = time.Since(start)
		return result
	}

	retryCfg := &retry.Config{
		MaxAttempts: wp.maxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     wp.ctx,
		Logger:      wp.logger,
	}

	requiredSaved := 0
	for index, ref := range item.MediaRefs {
		wp.rateLimiter.Wait()

		ref := ref
		data, err := retry.DoWithResult(func() ([]byte, error) {
			return wp.fetcher.DownloadMedia(wp.ctx, ref.URL)
		}, retryCfg)
		if err == nil {
			filename := fmt.Sprintf("%s-%s-%d%s", item.PublishedDate, item.ID, index+1, ref.Ext)
			var path string
			path, err = wp.storage.Save(bytes.NewReader(data), item.Author, string(item.Kind), filename)
			if err == nil {
				result.FilePaths = append(result.FilePaths, path)
				if !ref.Optional {
					requiredSaved++
				}
				continue
			}
		}

		if ref.Optional {
			wp.logger.WarnWithFields("optional media ref failed", map[string]interface{}{
				"aweme_id": item.ID,
				"index":    index,
				"error":    err.Error(),
			})
			continue
		}

		// Required ref failed; remaining refs are not attempted so the
		// recorded file list stays an ordered prefix.
		result.Err = err
		result.ErrorKind = classifyError(err)
		break
	}

	switch {
	case result.Err == nil:
		result.Status = StatusSuccess
	case requiredSaved > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}
	result.Duration = time.Since(start)

	if result.Err != nil {
		wp.logger.ErrorWithFields("item fetch failed", map[string]interface{}{
			"worker_id":  workerID,
			"aweme_id":   item.ID,
			"status":     result.Status,
			"error_kind": result.ErrorKind,
			"error":      result.Err.Error(),
			"duration":   result.Duration,
		})
	} else {
		wp.logger.DebugWithFields("item fetch completed", map[string]interface{}{
			"worker_id": workerID,
			"aweme_id":  item.ID,
			"files":     len(result.FilePaths),
			"duration":  result.Duration,
		})
	}

	return result
}

// classifyError maps a fetch error to the manifest error kind
func classifyError(err error) string {
	var apiErr *douyin.Error
	if errors.As(err, &apiErr) {
		return string(apiErr.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "unknown"
}

// GetQueueSize returns the current number of queued items
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}
