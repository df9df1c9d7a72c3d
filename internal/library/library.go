package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/booksnap/booksnap/internal/config"
	"github.com/booksnap/booksnap/internal/download"
	"github.com/booksnap/booksnap/internal/event"
	"github.com/booksnap/booksnap/internal/http"
	ioutils "github.com/booksnap/booksnap/internal/io"
	"github.com/booksnap/booksnap/internal/model"
	"github.com/booksnap/booksnap/internal/pdf"
	"github.com/booksnap/booksnap/internal/source"
	"github.com/booksnap/booksnap/internal/state"
)

// Library is the acquisition catalog over one storage root. It hands
// out Tickets for requested books and guarantees at most one engine run
// per book identity at a time: concurrent requests for the same book
// share a single acquisition.
type Library struct {
	settings *config.Settings
	bus      *event.Bus
	store    *state.Store
	registry *source.Registry
	engine   *download.Engine
	log      *slog.Logger

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
}

type options struct {
	settings   *config.Settings
	strategies []source.Strategy
	builder    download.ArtifactBuilder
	log        *slog.Logger
}

// Option customizes Build.
type Option func(*options)

// WithSettings supplies the settings; defaults are used otherwise.
func WithSettings(s *config.Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithStrategies replaces the default source strategies.
func WithStrategies(strategies ...source.Strategy) Option {
	return func(o *options) { o.strategies = strategies }
}

// WithBuilder replaces the default PDF artifact builder.
func WithBuilder(b download.ArtifactBuilder) Option {
	return func(o *options) { o.builder = b }
}

// WithLogger sets the logger used by the library and its components.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// Build creates the library storage layout under the configured root
// and wires the default components: HTTP client, prlib and shpl
// strategies, JSON state store, event bus and acquisition engine.
func Build(opts ...Option) (*Library, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.settings == nil {
		o.settings = config.DefaultSettings()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.builder == nil {
		o.builder = pdf.NewBuilder()
	}
	if o.strategies == nil {
		client := http.NewClient(o.settings.FetchTimeout(), o.settings.UserAgent)
		tiles := &source.Dezoomify{Path: o.settings.DezoomifyPath, Log: o.log}
		o.strategies = []source.Strategy{
			source.NewPrLib(client, tiles),
			source.NewShpl(client),
		}
	}

	if err := ioutils.EnsureDir(o.settings.LibraryPath); err != nil {
		return nil, fmt.Errorf("create library root: %w", err)
	}
	store, err := state.NewStore(filepath.Join(o.settings.LibraryPath, "metadata"))
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(o.log)
	registry := source.NewRegistry(o.strategies...)
	engine := download.NewEngine(o.settings, registry, store, o.builder, bus, o.log)

	// Acquisitions run on a context owned by the library, not by the
	// caller that happened to request the book first: a shared run must
	// survive any one requester going away.
	ctx, cancel := context.WithCancel(context.Background())

	return &Library{
		settings: o.settings,
		bus:      bus,
		store:    store,
		registry: registry,
		engine:   engine,
		log:      o.log,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Bus exposes the event bus for subscribing to acquisition progress.
func (l *Library) Bus() *event.Bus { return l.bus }

// Resolve maps a book URL to its identity without acquiring anything.
func (l *Library) Resolve(url string) (model.BookID, error) {
	strat, err := l.registry.Match(url)
	if err != nil {
		return model.BookID{}, err
	}
	return strat.ResolveID(url)
}

// GetBook requests the book at url and returns a Ticket for the result.
//
// URL problems are reported synchronously. A book that is already
// complete yields an immediately resolved Ticket. Otherwise the
// acquisition runs in the background, shared with any concurrent
// request for the same identity.
func (l *Library) GetBook(url string) (*Ticket, error) {
	id, err := l.Resolve(url)
	if err != nil {
		return nil, err
	}

	if st, err := l.store.Load(id); err == nil && st != nil && st.Complete {
		if _, err := os.Stat(st.ArtifactPath); err == nil {
			return resolvedTicket(id, st.ArtifactPath), nil
		}
	}

	t := &Ticket{ID: id, done: make(chan struct{})}
	ch := l.group.DoChan(id.String(), func() (any, error) {
		return l.engine.Acquire(l.ctx, url)
	})
	go func() {
		res := <-ch
		if path, ok := res.Val.(string); ok {
			t.path = path
		}
		t.err = res.Err
		close(t.done)
	}()
	return t, nil
}

// Close stops in-flight acquisitions and shuts down the event bus after
// delivering everything already queued.
func (l *Library) Close() {
	l.cancel()
	l.bus.Close()
}

// Ticket is a handle for one requested book.
type Ticket struct {
	ID model.BookID

	done chan struct{}
	path string
	err  error
}

func resolvedTicket(id model.BookID, path string) *Ticket {
	t := &Ticket{ID: id, done: make(chan struct{}), path: path}
	close(t.done)
	return t
}

// Done is closed when the acquisition has finished either way.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Ready reports whether the result is available without blocking.
func (t *Ticket) Ready() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Path returns the artifact path when the acquisition has succeeded,
// and "" while it is still running or when it failed.
func (t *Ticket) Path() string {
	if !t.Ready() {
		return ""
	}
	return t.path
}

// Result blocks until the acquisition finishes or ctx is cancelled and
// returns the artifact path. Cancelling ctx abandons the wait, not the
// acquisition itself.
func (t *Ticket) Result(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return t.path, t.err
	}
}
