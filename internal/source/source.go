package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/booksnap/booksnap/internal/model"
)

// ErrUnsupportedSource is returned when no registered strategy matches a URL.
var ErrUnsupportedSource = errors.New("no source strategy matches URL")

// ErrInvalidURL is returned when a strategy matches a URL but cannot
// extract a book identity from it.
var ErrInvalidURL = errors.New("invalid book URL")

// Policy is the per-source download policy the engine must honor
// exactly. It applies to the source as a whole, not per book: two books
// acquired from the same source share the same bound.
type Policy struct {
	// MaxConcurrent is the number of page fetches allowed in flight
	// simultaneously for this source. Always >= 1.
	MaxConcurrent int64

	// RequestDelay is the minimum spacing between consecutive page fetch
	// dispatches for this source. Zero means no spacing.
	RequestDelay time.Duration
}

// Strategy adapts one online library: it resolves identities, fetches
// book metadata and downloads single page images. Implementations are
// immutable and hold no per-book state.
type Strategy interface {
	// Tag is the short stable source name ("prlib", "shpl") used in
	// identities and as the concurrency-pool key.
	Tag() string

	// CanHandle reports whether this strategy recognizes the URL.
	CanHandle(url string) bool

	// ResolveID derives the book identity from the URL. Fails with
	// ErrInvalidURL (wrapped) when the URL shape is wrong.
	ResolveID(url string) (model.BookID, error)

	// FetchMetadata fetches and parses the book's catalog page.
	FetchMetadata(ctx context.Context, url string) (*model.Metadata, error)

	// FetchPage downloads the image for one page locator into destPath.
	// The write must be atomic: destPath either holds the full image or
	// does not exist.
	FetchPage(ctx context.Context, ref model.PageRef, destPath string) error

	// Policy returns the source's concurrency and rate policy.
	Policy() Policy
}

// Registry holds the ordered list of registered strategies plus the
// per-source semaphores and rate limiters shared by every acquisition.
// Selection is by URL match, first match wins.
type Registry struct {
	strategies []Strategy

	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	limiters map[string]*rate.Limiter
}

// NewRegistry creates a Registry over the given strategies, keeping
// their order.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{
		strategies: strategies,
		sems:       make(map[string]*semaphore.Weighted),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Match returns the first strategy that can handle url, or
// ErrUnsupportedSource.
func (r *Registry) Match(url string) (Strategy, error) {
	for _, s := range r.strategies {
		if s.CanHandle(url) {
			return s, nil
		}
	}
	return nil, ErrUnsupportedSource
}

// Semaphore returns the shared concurrency bound for a strategy, sized
// from its policy on first use.
func (r *Registry) Semaphore(s Strategy) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.sems[s.Tag()]
	if !ok {
		limit := s.Policy().MaxConcurrent
		if limit < 1 {
			limit = 1
		}
		sem = semaphore.NewWeighted(limit)
		r.sems[s.Tag()] = sem
	}
	return sem
}

// Limiter returns the shared dispatch rate limiter for a strategy,
// built from its policy on first use.
func (r *Registry) Limiter(s Strategy) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[s.Tag()]
	if !ok {
		delay := s.Policy().RequestDelay
		if delay <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(delay), 1)
		}
		r.limiters[s.Tag()] = lim
	}
	return lim
}
