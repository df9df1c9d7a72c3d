package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/booksnap/booksnap/internal/config"
	"github.com/booksnap/booksnap/internal/event"
	"github.com/booksnap/booksnap/internal/model"
	"github.com/booksnap/booksnap/internal/source"
	"github.com/booksnap/booksnap/internal/state"
)

var tinyJPEG = func() []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// fakeSource is an in-memory source strategy with configurable failures
// and call accounting.
type fakeSource struct {
	policy source.Policy
	meta   *model.Metadata

	mu               sync.Mutex
	metadataFailures int
	metadataCalls    int
	failPage         map[model.PageRef]error
	failDelay        time.Duration
	pageDelay        time.Duration
	fetched          []model.PageRef
	dispatches       []time.Time
	inFlight         int
	maxInFlight      int
}

func newFakeSource(pages int) *fakeSource {
	meta := &model.Metadata{Title: "Опыт истории", Author: "Н. Н.", Year: "1901"}
	for i := 0; i < pages; i++ {
		meta.Pages = append(meta.Pages, model.PageRef(fmt.Sprintf("p%d", i)))
	}
	return &fakeSource{
		policy:   source.Policy{MaxConcurrent: 4},
		meta:     meta,
		failPage: make(map[model.PageRef]error),
	}
}

func (s *fakeSource) Tag() string { return "fake" }

func (s *fakeSource) CanHandle(bookURL string) bool {
	return strings.Contains(bookURL, "fake.example")
}

func (s *fakeSource) ResolveID(bookURL string) (model.BookID, error) {
	u, err := url.Parse(bookURL)
	if err != nil {
		return model.BookID{}, fmt.Errorf("%w: %v", source.ErrInvalidURL, err)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	seg := segs[len(segs)-1]
	if seg == "" {
		return model.BookID{}, fmt.Errorf("%w: no item id in %s", source.ErrInvalidURL, bookURL)
	}
	return model.BookID{Source: "fake", ItemID: seg}, nil
}

func (s *fakeSource) Policy() source.Policy { return s.policy }

func (s *fakeSource) FetchMetadata(ctx context.Context, bookURL string) (*model.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataCalls++
	if s.metadataCalls <= s.metadataFailures {
		return nil, errors.New("catalog page unavailable")
	}
	return s.meta, nil
}

func (s *fakeSource) FetchPage(ctx context.Context, ref model.PageRef, destPath string) error {
	s.mu.Lock()
	s.dispatches = append(s.dispatches, time.Now())
	s.fetched = append(s.fetched, ref)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	fail := s.failPage[ref]
	delay := s.pageDelay
	if fail != nil {
		delay = s.failDelay
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if fail != nil {
		return fail
	}
	return os.WriteFile(destPath, tinyJPEG, 0644)
}

func (s *fakeSource) fetchedRefs() []model.PageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PageRef(nil), s.fetched...)
}

type fakeBuilder struct {
	mu     sync.Mutex
	builds int
	fail   error
}

func (b *fakeBuilder) Build(ctx context.Context, imagePaths []string, destPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.builds++
	return os.WriteFile(destPath, []byte("%PDF-fake"), 0644)
}

type fixture struct {
	engine   *Engine
	bus      *event.Bus
	store    *state.Store
	settings *config.Settings
	builder  *fakeBuilder
	src      *fakeSource
}

func newFixture(t *testing.T, src *fakeSource) *fixture {
	t.Helper()

	settings := config.DefaultSettings()
	settings.LibraryPath = t.TempDir()
	settings.RetryCooldown = 0.005
	settings.MetadataMaxRetries = 1
	settings.PageMaxRetries = 0

	store, err := state.NewStore(filepath.Join(settings.LibraryPath, "metadata"))
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(quiet)
	t.Cleanup(bus.Close)

	builder := &fakeBuilder{}
	engine := NewEngine(settings, source.NewRegistry(src), store, builder, bus, quiet)

	return &fixture{
		engine:   engine,
		bus:      bus,
		store:    store,
		settings: settings,
		builder:  builder,
		src:      src,
	}
}

// collectEvents records every published event; call the returned
// function after closing the bus to get the delivered sequence.
func collectEvents(bus *event.Bus) func() []event.Event {
	var mu sync.Mutex
	var evs []event.Event
	bus.Subscribe(func(ev event.Event) {
		mu.Lock()
		evs = append(evs, ev)
		mu.Unlock()
	})
	return func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.Event(nil), evs...)
	}
}

const bookURL = "https://fake.example/book/42"

func TestEngine_Acquire(t *testing.T) {
	f := newFixture(t, newFakeSource(3))
	events := collectEvents(f.bus)

	path, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	id := model.BookID{Source: "fake", ItemID: "42"}
	assert.Equal(t, model.ArtifactPath(f.settings.LibraryPath, id, "Опыт истории"), path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}

	st, err := f.store.Load(id)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Complete)
	assert.Equal(t, []int{0, 1, 2}, st.Pages)
	assert.Equal(t, path, st.ArtifactPath)

	f.bus.Close()
	evs := events()
	require.GreaterOrEqual(t, len(evs), 6)

	df, ok := evs[0].(event.DataFetched)
	require.True(t, ok, "first event is %T, want DataFetched", evs[0])
	assert.Equal(t, "Опыт истории", df.Title)
	assert.Equal(t, 3, df.TotalPages)

	ar, ok := evs[len(evs)-1].(event.ArtifactReady)
	require.True(t, ok, "last event is %T, want ArtifactReady", evs[len(evs)-1])
	assert.Equal(t, path, ar.Path)

	var pages []int
	imagesAt := -1
	for i, ev := range evs {
		switch e := ev.(type) {
		case event.Progress:
			pages = append(pages, e.Page)
			if imagesAt != -1 {
				t.Error("Progress delivered after ImagesDownloaded")
			}
		case event.ImagesDownloaded:
			imagesAt = i
		}
	}
	sort.Ints(pages)
	assert.Equal(t, []int{0, 1, 2}, pages)
	assert.NotEqual(t, -1, imagesAt, "no ImagesDownloaded event")
}

func TestEngine_AcquireIsIdempotent(t *testing.T) {
	f := newFixture(t, newFakeSource(3))

	first, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)
	second, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.src.metadataCalls, "metadata refetched for a complete book")
	assert.Len(t, f.src.fetchedRefs(), 3, "pages refetched for a complete book")
}

func TestEngine_AcquireResumesMissingPages(t *testing.T) {
	f := newFixture(t, newFakeSource(3))

	// Seed the record of an interrupted run: metadata known, pages 0
	// and 1 already staged.
	id := model.BookID{Source: "fake", ItemID: "42"}
	st := state.New(id, bookURL)
	st.SetMetadata(f.src.meta)
	st.MarkPage(0)
	st.MarkPage(1)
	require.NoError(t, f.store.Save(st))

	stagingDir := model.StagingDir(f.settings.LibraryPath, id)
	require.NoError(t, os.MkdirAll(stagingDir, 0755))
	for _, page := range []int{0, 1} {
		require.NoError(t, os.WriteFile(model.PagePath(stagingDir, page), tinyJPEG, 0644))
	}

	_, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	assert.Equal(t, 0, f.src.metadataCalls, "metadata refetched despite cached page refs")
	assert.Equal(t, []model.PageRef{"p2"}, f.src.fetchedRefs())
}

func TestEngine_AcquireHonorsConcurrencyBound(t *testing.T) {
	src := newFakeSource(8)
	src.policy = source.Policy{MaxConcurrent: 2}
	src.pageDelay = 20 * time.Millisecond
	f := newFixture(t, src)

	_, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	assert.LessOrEqual(t, src.maxInFlight, 2, "concurrency bound exceeded")
	assert.Len(t, src.fetchedRefs(), 8)
}

func TestEngine_AcquireSpacesDispatches(t *testing.T) {
	src := newFakeSource(3)
	src.policy = source.Policy{MaxConcurrent: 3, RequestDelay: 60 * time.Millisecond}
	f := newFixture(t, src)

	_, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	times := append([]time.Time(nil), src.dispatches...)
	require.Len(t, times, 3)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 45*time.Millisecond, "dispatches %d and %d too close", i-1, i)
	}
}

func TestEngine_MetadataRetry(t *testing.T) {
	t.Run("transient failure recovers", func(t *testing.T) {
		src := newFakeSource(1)
		src.metadataFailures = 1
		f := newFixture(t, src)

		_, err := f.engine.Acquire(context.Background(), bookURL)
		require.NoError(t, err)
		assert.Equal(t, 2, src.metadataCalls)
	})

	t.Run("exhausted retries fail the acquisition", func(t *testing.T) {
		src := newFakeSource(1)
		src.metadataFailures = 10
		f := newFixture(t, src)

		_, err := f.engine.Acquire(context.Background(), bookURL)
		var merr *MetadataError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, bookURL, merr.URL)
		assert.Equal(t, 2, src.metadataCalls, "want initial attempt plus one retry")

		// Nothing useful was learned, so no record is written.
		st, err := f.store.Load(model.BookID{Source: "fake", ItemID: "42"})
		require.NoError(t, err)
		assert.Nil(t, st)
	})
}

func TestEngine_PageFailureKeepsStagedPages(t *testing.T) {
	src := newFakeSource(3)
	src.failPage["p2"] = errors.New("image server said no")
	src.failDelay = 50 * time.Millisecond
	f := newFixture(t, src)

	_, err := f.engine.Acquire(context.Background(), bookURL)
	var perr *PageError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Page)

	id := model.BookID{Source: "fake", ItemID: "42"}
	st, err := f.store.Load(id)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.Complete)
	assert.True(t, st.HasPage(0))
	assert.True(t, st.HasPage(1))
	assert.False(t, st.HasPage(2))

	// Once the source recovers, the rerun fetches only the failed page.
	src.mu.Lock()
	delete(src.failPage, "p2")
	src.fetched = nil
	src.mu.Unlock()

	_, err = f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)
	assert.Equal(t, []model.PageRef{"p2"}, f.src.fetchedRefs())
}

func TestEngine_BuildFailureKeepsStagedPages(t *testing.T) {
	src := newFakeSource(2)
	f := newFixture(t, src)
	f.builder.fail = errors.New("disk full")

	_, err := f.engine.Acquire(context.Background(), bookURL)
	var berr *BuildError
	require.ErrorAs(t, err, &berr)

	id := model.BookID{Source: "fake", ItemID: "42"}
	st, err := f.store.Load(id)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.Complete)
	assert.True(t, st.AllPagesStaged())

	// The rerun goes straight to assembly.
	f.builder.fail = nil
	src.mu.Lock()
	src.fetched = nil
	src.mu.Unlock()

	path, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)
	assert.Empty(t, f.src.fetchedRefs(), "pages refetched although all were staged")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestEngine_RemovesStagingWhenConfigured(t *testing.T) {
	f := newFixture(t, newFakeSource(2))
	f.settings.KeepPageImages = false

	_, err := f.engine.Acquire(context.Background(), bookURL)
	require.NoError(t, err)

	stagingDir := model.StagingDir(f.settings.LibraryPath, model.BookID{Source: "fake", ItemID: "42"})
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Errorf("staging dir still present: %v", err)
	}
}

func TestEngine_RejectsUnknownURLs(t *testing.T) {
	f := newFixture(t, newFakeSource(1))

	_, err := f.engine.Acquire(context.Background(), "https://example.com/whatever")
	assert.ErrorIs(t, err, source.ErrUnsupportedSource)

	_, err = f.engine.Acquire(context.Background(), "https://fake.example")
	assert.ErrorIs(t, err, source.ErrInvalidURL)
}
