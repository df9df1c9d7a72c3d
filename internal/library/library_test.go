package library

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
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
)

var tinyJPEG = func() []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// slowSource serves a fixed two-page book with a per-page delay so
// tests can overlap requests.
type slowSource struct {
	pageDelay time.Duration

	mu            sync.Mutex
	metadataCalls int
	pageCalls     int
}

func (s *slowSource) Tag() string               { return "slow" }
func (s *slowSource) CanHandle(url string) bool { return strings.Contains(url, "slow.example") }
func (s *slowSource) Policy() source.Policy     { return source.Policy{MaxConcurrent: 2} }

func (s *slowSource) ResolveID(url string) (model.BookID, error) {
	segs := strings.Split(strings.Trim(url, "/"), "/")
	return model.BookID{Source: "slow", ItemID: segs[len(segs)-1]}, nil
}

func (s *slowSource) FetchMetadata(ctx context.Context, url string) (*model.Metadata, error) {
	s.mu.Lock()
	s.metadataCalls++
	s.mu.Unlock()
	return &model.Metadata{Title: "Летопись", Pages: []model.PageRef{"a", "b"}}, nil
}

func (s *slowSource) FetchPage(ctx context.Context, ref model.PageRef, destPath string) error {
	s.mu.Lock()
	s.pageCalls++
	s.mu.Unlock()
	if s.pageDelay > 0 {
		time.Sleep(s.pageDelay)
	}
	return os.WriteFile(destPath, tinyJPEG, 0644)
}

type stubBuilder struct{}

func (stubBuilder) Build(ctx context.Context, imagePaths []string, destPath string) error {
	return os.WriteFile(destPath, []byte(fmt.Sprintf("%%PDF %d pages", len(imagePaths))), 0644)
}

func newTestLibrary(t *testing.T, src source.Strategy) *Library {
	t.Helper()
	settings := config.DefaultSettings()
	settings.LibraryPath = t.TempDir()

	lib, err := Build(
		WithSettings(settings),
		WithStrategies(src),
		WithBuilder(stubBuilder{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(lib.Close)
	return lib
}

func TestLibrary_GetBook(t *testing.T) {
	src := &slowSource{}
	lib := newTestLibrary(t, src)

	ticket, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)
	assert.Equal(t, model.BookID{Source: "slow", ItemID: "7"}, ticket.ID)

	path, err := ticket.Result(context.Background())
	require.NoError(t, err)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}

	// A later request finds the completed book without a new run.
	again, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)
	assert.True(t, again.Ready(), "completed book should resolve immediately")
	p2, err := again.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, p2)
	assert.Equal(t, 1, src.metadataCalls)
}

func TestLibrary_GetBookDeduplicatesInFlight(t *testing.T) {
	src := &slowSource{pageDelay: 40 * time.Millisecond}
	lib := newTestLibrary(t, src)

	t1, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)
	t2, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)

	p1, err := t1.Result(context.Background())
	require.NoError(t, err)
	p2, err := t2.Result(context.Background())
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, src.metadataCalls, "concurrent requests ran separate acquisitions")
	assert.Equal(t, 2, src.pageCalls)
}

func TestLibrary_GetBookRejectsUnknownURL(t *testing.T) {
	lib := newTestLibrary(t, &slowSource{})

	_, err := lib.GetBook("https://elsewhere.example/7")
	assert.ErrorIs(t, err, source.ErrUnsupportedSource)
}

func TestLibrary_Resolve(t *testing.T) {
	lib := newTestLibrary(t, &slowSource{})

	id, err := lib.Resolve("https://slow.example/99")
	require.NoError(t, err)
	assert.Equal(t, model.BookID{Source: "slow", ItemID: "99"}, id)
}

func TestLibrary_EventsReachSubscribers(t *testing.T) {
	lib := newTestLibrary(t, &slowSource{})

	var mu sync.Mutex
	var ready []event.ArtifactReady
	lib.Bus().OnArtifactReady(func(e event.ArtifactReady) {
		mu.Lock()
		ready = append(ready, e)
		mu.Unlock()
	})

	ticket, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)
	path, err := ticket.Result(context.Background())
	require.NoError(t, err)

	lib.Close() // drains queued events
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ready, 1)
	assert.Equal(t, path, ready[0].Path)
}

func TestTicket_ResultHonorsContext(t *testing.T) {
	src := &slowSource{pageDelay: 200 * time.Millisecond}
	lib := newTestLibrary(t, src)

	ticket, err := lib.GetBook("https://slow.example/7")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ticket.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The acquisition itself keeps running.
	path, err := ticket.Result(context.Background())
	require.NoError(t, err)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}
