package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/booksnap/booksnap/internal/config"
	"github.com/booksnap/booksnap/internal/event"
	ioutils "github.com/booksnap/booksnap/internal/io"
	"github.com/booksnap/booksnap/internal/model"
	"github.com/booksnap/booksnap/internal/source"
	"github.com/booksnap/booksnap/internal/state"
)

// ArtifactBuilder assembles staged page images into the final document.
// imagePaths is ordered by page index. The write must be atomic:
// destPath either holds the complete document or does not exist.
type ArtifactBuilder interface {
	Build(ctx context.Context, imagePaths []string, destPath string) error
}

// Engine runs one book acquisition end to end: resolve identity, fetch
// metadata, download the missing pages, assemble the artifact.
//
// Every page is staged atomically and recorded in the persistent state
// before it counts as done, so an interrupted run resumes with only the
// remaining pages. The engine assumes a single run per identity at a
// time; the library catalog's deduplication provides that.
type Engine struct {
	settings *config.Settings
	registry *source.Registry
	store    *state.Store
	builder  ArtifactBuilder
	bus      *event.Bus
	log      *slog.Logger
}

// NewEngine wires an Engine. A nil logger defaults to slog.Default.
func NewEngine(settings *config.Settings, registry *source.Registry, store *state.Store, builder ArtifactBuilder, bus *event.Bus, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		settings: settings,
		registry: registry,
		store:    store,
		builder:  builder,
		bus:      bus,
		log:      log,
	}
}

// Acquire downloads the book at url and returns the artifact path.
//
// A book that is already complete returns immediately without touching
// the network. A partially downloaded book resumes from its state
// record. On failure the state record keeps every page staged so far.
func (e *Engine) Acquire(ctx context.Context, url string) (string, error) {
	strat, err := e.registry.Match(url)
	if err != nil {
		return "", err
	}
	id, err := strat.ResolveID(url)
	if err != nil {
		return "", err
	}
	log := e.log.With("book", id.String())

	st, err := e.store.Load(id)
	if err != nil {
		return "", &StateError{Err: err}
	}
	if st != nil && st.Complete {
		if _, err := os.Stat(st.ArtifactPath); err == nil {
			log.Debug("already acquired", "artifact", st.ArtifactPath)
			return st.ArtifactPath, nil
		}
		// The artifact vanished; rebuild it from the staged pages.
		st.Complete = false
	}
	if st == nil {
		st = state.New(id, url)
	}

	if st.TotalPages == nil || len(st.PageRefs) != *st.TotalPages {
		md, err := e.fetchMetadata(ctx, strat, url)
		if err != nil {
			return "", &MetadataError{URL: url, Err: err}
		}
		st.SetMetadata(md)
		if err := e.store.Save(st); err != nil {
			return "", &StateError{Err: err}
		}
		log.Info("metadata fetched", "title", st.Title, "pages", *st.TotalPages)
	}
	e.bus.Publish(event.DataFetched{ID: id, Title: st.Title, TotalPages: *st.TotalPages})

	stagingDir := model.StagingDir(e.settings.LibraryPath, id)
	if err := ioutils.EnsureDir(stagingDir); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	if missing := st.MissingPages(); len(missing) > 0 {
		log.Info("downloading pages", "missing", len(missing), "total", *st.TotalPages)
		if err := e.downloadPages(ctx, strat, st, stagingDir, missing); err != nil {
			return "", err
		}
	}
	e.bus.Publish(event.ImagesDownloaded{ID: id})

	artifactPath := model.ArtifactPath(e.settings.LibraryPath, id, st.Title)
	imagePaths := make([]string, *st.TotalPages)
	for i := range imagePaths {
		imagePaths[i] = model.PagePath(stagingDir, i)
	}
	if err := e.builder.Build(ctx, imagePaths, artifactPath); err != nil {
		return "", &BuildError{Err: err}
	}

	st.Complete = true
	st.ArtifactPath = artifactPath
	if err := e.store.Save(st); err != nil {
		return "", &StateError{Err: err}
	}
	e.bus.Publish(event.ArtifactReady{ID: id, Path: artifactPath})
	log.Info("artifact ready", "artifact", artifactPath)

	if !e.settings.KeepPageImages {
		if err := os.RemoveAll(stagingDir); err != nil {
			log.Warn("remove staging dir", "error", err)
		}
	}
	return artifactPath, nil
}

// fetchMetadata fetches the catalog page with retries, each attempt
// bounded by the configured fetch timeout.
func (e *Engine) fetchMetadata(ctx context.Context, strat source.Strategy, url string) (*model.Metadata, error) {
	for attempt := 0; ; attempt++ {
		md, err := func() (*model.Metadata, error) {
			actx, cancel := context.WithTimeout(ctx, e.settings.FetchTimeout())
			defer cancel()
			return strat.FetchMetadata(actx, url)
		}()
		if err == nil {
			return md, nil
		}
		if attempt >= e.settings.MetadataMaxRetries || ctx.Err() != nil {
			return nil, err
		}
		e.log.Warn("metadata fetch failed, retrying", "url", url, "attempt", attempt+1, "error", err)
		if err := e.waitForRetry(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// downloadPages fetches the missing pages under the source's shared
// concurrency bound and dispatch spacing. Each staged page is recorded
// and saved before its Progress event fires.
func (e *Engine) downloadPages(ctx context.Context, strat source.Strategy, st *state.DownloadState, stagingDir string, missing []int) error {
	sem := e.registry.Semaphore(strat)
	limiter := e.registry.Limiter(strat)
	normalizer := &ioutils.PageNormalizer{
		Quality: e.settings.JPEGQuality,
		MaxSize: e.settings.PageMaxSize,
	}

	var mu sync.Mutex // guards st mutation and saves

	g, gctx := errgroup.WithContext(ctx)
	for _, page := range missing {
		page := page
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			destPath := model.PagePath(stagingDir, page)
			if err := e.fetchPage(gctx, strat, limiter, st.PageRefs[page], destPath); err != nil {
				return &PageError{Page: page, Err: err}
			}
			if _, err := normalizer.Normalize(destPath); err != nil {
				return &PageError{Page: page, Err: err}
			}

			mu.Lock()
			st.MarkPage(page)
			err := e.store.Save(st)
			mu.Unlock()
			if err != nil {
				return &StateError{Err: err}
			}

			e.bus.Publish(event.Progress{ID: st.ID, Page: page, TotalPages: *st.TotalPages})
			return nil
		})
	}
	return g.Wait()
}

// fetchPage downloads one page with retries. Every dispatch, retries
// included, goes through the source's rate limiter.
func (e *Engine) fetchPage(ctx context.Context, strat source.Strategy, limiter *rate.Limiter, ref model.PageRef, destPath string) error {
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		err := func() error {
			actx, cancel := context.WithTimeout(ctx, e.settings.FetchTimeout())
			defer cancel()
			return strat.FetchPage(actx, ref, destPath)
		}()
		if err == nil {
			return nil
		}
		if attempt >= e.settings.PageMaxRetries || ctx.Err() != nil {
			return err
		}
		e.log.Warn("page fetch failed, retrying", "page", destPath, "attempt", attempt+1, "error", err)
		if err := e.waitForRetry(ctx, attempt); err != nil {
			return err
		}
	}
}

// waitForRetry sleeps for the backoff delay before retry attempt n,
// aborting early on context cancellation.
func (e *Engine) waitForRetry(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.settings.RetryDelay(attempt)):
		return nil
	}
}
