// Package enumerate expands a user profile into its full list of works.
// The primary strategy pages the listing API; when that stalls while the
// profile metadata says more works exist, a heavier harvest strategy is
// invoked at most once and merged in by id, primary winning.
package enumerate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"douget/pkg/douyin"
	"douget/pkg/logger"
	"douget/pkg/ratelimit"
)

// ErrBlocked is the hard enumeration failure: authentication or rate
// limiting stopped the listing. Not retryable within the run.
var ErrBlocked = errors.New("enumeration blocked")

// Pager fetches one page of the primary works listing
type Pager interface {
	FetchUserPosts(secUID string, cursor int64) (*douyin.PostPage, error)
}

// FallbackLister is the heavy enumeration path that can see works the
// lightweight listing misses. It yields ids only.
type FallbackLister interface {
	HarvestPostIDs(ctx context.Context, secUID string, expected int) ([]string, error)
}

// DetailFetcher recovers a full work by id for fallback-only results
type DetailFetcher interface {
	FetchAwemeDetail(awemeID string) (*douyin.Aweme, error)
}

// ProfileFetcher fetches the profile metadata used for stall detection
type ProfileFetcher interface {
	FetchUserProfile(secUID string) (*douyin.User, error)
}

// Policy tunes stall detection and the fallback strategy
type Policy struct {
	// FallbackEnabled gates the heavy path entirely
	FallbackEnabled bool
	// MinExpectedRatio arms the fallback when primary yield falls below
	// this share of the profile's declared work count. The declared
	// count is often unreliable, so the ratio never aborts pagination.
	MinExpectedRatio float64
	// FallbackTimeout bounds the harvest independently of page fetches
	FallbackTimeout time.Duration
	// MaxPages is a loop guard on primary pagination
	MaxPages int
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		FallbackEnabled:  true,
		MinExpectedRatio: 0.8,
		FallbackTimeout:  5 * time.Minute,
		MaxPages:         500,
	}
}

// Listing is the outcome of one enumeration run
type Listing struct {
	User  *douyin.User
	Items []douyin.Aweme
	// Cursor is where pagination stopped; a later run can restart here
	Cursor int64
	// Truncated is the soft failure: partial results were kept
	Truncated bool
	// FallbackUsed records that the heavy path ran (at most once)
	FallbackUsed bool
	// FallbackErr is the harvest failure, if any; non-fatal
	FallbackErr error
}

// Enumerator expands profiles using a primary pager and an optional
// fallback lister behind the same contract
type Enumerator struct {
	profiles ProfileFetcher
	pager    Pager
	fallback FallbackLister
	details  DetailFetcher
	limiter  ratelimit.Limiter
	policy   Policy
	logger   logger.Logger
}

// New creates an Enumerator. fallback may be nil to disable the heavy path.
func New(
	profiles ProfileFetcher,
	pager Pager,
	fallback FallbackLister,
	details DetailFetcher,
	limiter ratelimit.Limiter,
	policy Policy,
	log logger.Logger,
) *Enumerator {
	if log == nil {
		log = logger.GetLogger()
	}
	if policy.MaxPages <= 0 {
		policy.MaxPages = DefaultPolicy().MaxPages
	}
	return &Enumerator{
		profiles: profiles,
		pager:    pager,
		fallback: fallback,
		details:  details,
		limiter:  limiter,
		policy:   policy,
		logger:   log,
	}
}

// Enumerate lists a user's works starting from cursor (0 for the
// beginning). Auth and rate-limit failures return ErrBlocked; other
// interruptions keep partial results and set Truncated.
func (e *Enumerator) Enumerate(ctx context.Context, secUID string, cursor int64) (*Listing, error) {
	user, err := e.profiles.FetchUserProfile(secUID)
	if err != nil {
		if isBlockingErr(err) {
			return nil, fmt.Errorf("%w: profile fetch for %s: %v", ErrBlocked, secUID, err)
		}
		return nil, fmt.Errorf("fetch profile %s: %w", secUID, err)
	}

	listing := &Listing{User: user, Cursor: cursor}
	stalled := false

	for page := 0; page < e.policy.MaxPages; page++ {
		if ctx.Err() != nil {
			listing.Truncated = true
			return listing, nil
		}

		e.limiter.Wait()

		requestCursor := listing.Cursor
		postPage, err := e.pager.FetchUserPosts(secUID, requestCursor)
		if err != nil {
			if isBlockingErr(err) {
				return nil, fmt.Errorf("%w: listing for %s at cursor %d: %v", ErrBlocked, secUID, requestCursor, err)
			}
			e.logger.WithError(err).WithField("sec_uid", secUID).Warn("listing page failed, keeping partial results")
			listing.Truncated = true
			break
		}

		if len(postPage.AwemeList) == 0 {
			// An empty page at a nonzero cursor with an OK status is the
			// platform quietly restricting pagination, not the real end.
			if requestCursor != 0 && postPage.StatusCode == 0 {
				stalled = true
				e.logger.WarnWithFields("pagination likely restricted, arming fallback", map[string]interface{}{
					"sec_uid": secUID,
					"cursor":  requestCursor,
				})
			}
			break
		}

		listing.Items = append(listing.Items, postPage.AwemeList...)
		listing.Cursor = postPage.MaxCursor

		if postPage.HasMore == 0 {
			break
		}
		if postPage.MaxCursor == requestCursor {
			stalled = true
			e.logger.WarnWithFields("cursor did not advance, stopping pagination", map[string]interface{}{
				"sec_uid": secUID,
				"cursor":  requestCursor,
			})
			break
		}
	}

	e.logger.InfoWithFields("primary enumeration finished", map[string]interface{}{
		"sec_uid":  secUID,
		"items":    len(listing.Items),
		"declared": user.AwemeCount,
		"stalled":  stalled,
	})

	if e.shouldFallback(stalled, len(listing.Items), user.AwemeCount) {
		e.runFallback(ctx, secUID, listing)
	}

	return listing, nil
}

// shouldFallback decides whether the heavy path is warranted
func (e *Enumerator) shouldFallback(stalled bool, got, declared int) bool {
	if !e.policy.FallbackEnabled || e.fallback == nil {
		return false
	}
	if stalled && got < declared {
		return true
	}
	if declared > 0 && e.policy.MinExpectedRatio > 0 {
		return float64(got) < e.policy.MinExpectedRatio*float64(declared)
	}
	return false
}

// runFallback harvests ids via the heavy path once and merges the ones
// the primary listing missed, recovering details per id
func (e *Enumerator) runFallback(ctx context.Context, secUID string, listing *Listing) {
	listing.FallbackUsed = true

	harvestCtx := ctx
	if e.policy.FallbackTimeout > 0 {
		var cancel context.CancelFunc
		harvestCtx, cancel = context.WithTimeout(ctx, e.policy.FallbackTimeout)
		defer cancel()
	}

	expected := 0
	if listing.User != nil {
		expected = listing.User.AwemeCount
	}

	ids, err := e.fallback.HarvestPostIDs(harvestCtx, secUID, expected)
	if err != nil {
		listing.FallbackErr = err
		e.logger.WithError(err).WithField("sec_uid", secUID).Warn("fallback harvest failed")
		return
	}
	if len(ids) == 0 {
		e.logger.WithField("sec_uid", secUID).Warn("fallback harvest returned no ids")
		return
	}

	existing := make(map[string]bool, len(listing.Items))
	for _, item := range listing.Items {
		existing[item.AwemeID] = true
	}

	recovered, failed := 0, 0
	for _, id := range ids {
		if existing[id] {
			continue
		}
		if ctx.Err() != nil {
			listing.Truncated = true
			break
		}

		e.limiter.Wait()

		detail, err := e.details.FetchAwemeDetail(id)
		if err != nil {
			failed++
			continue
		}
		// The harvest can pick up reposts from other authors
		if detail.Author.SecUID != "" && detail.Author.SecUID != secUID {
			continue
		}
		listing.Items = append(listing.Items, *detail)
		existing[id] = true
		recovered++
	}

	e.logger.InfoWithFields("fallback enumeration merged", map[string]interface{}{
		"sec_uid":        secUID,
		"harvested_ids":  len(ids),
		"recovered":      recovered,
		"detail_failed":  failed,
		"total_items":    len(listing.Items),
	})
}

// isBlockingErr reports whether the error is a hard auth/rate-limit stop
func isBlockingErr(err error) bool {
	var apiErr *douyin.Error
	if errors.As(err, &apiErr) {
		return apiErr.Type == douyin.ErrorTypeAuth || apiErr.Type == douyin.ErrorTypeRateLimit
	}
	return false
}
