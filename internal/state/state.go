package state

import (
	"sort"

	"github.com/booksnap/booksnap/internal/model"
)

// DownloadState is the persisted record of one book's acquisition
// progress. It is the resumability mechanism: an interrupted run leaves
// behind a record of exactly which pages were durably staged, and the
// next run downloads only the rest.
//
// Only the acquisition engine mutates a DownloadState; the catalog's
// in-flight deduplication guarantees a single engine run per identity,
// so no locking lives inside the record itself.
type DownloadState struct {
	ID     model.BookID `json:"id"`
	URL    string       `json:"url"`
	Title  string       `json:"title"`
	Author string       `json:"author,omitempty"`
	Year   string       `json:"year,omitempty"`

	// TotalPages is nil until metadata has been fetched.
	TotalPages *int `json:"total_pages"`

	// PageRefs caches the per-page locators from metadata so a resumed
	// run does not refetch the catalog page.
	PageRefs []model.PageRef `json:"page_refs,omitempty"`

	// Pages lists the indices of durably staged pages, sorted, unique,
	// 0-based.
	Pages []int `json:"pages"`

	// Complete is set only after every page is staged, the artifact is
	// written and ArtifactPath points at it.
	Complete bool `json:"complete"`

	ArtifactPath string `json:"artifact_path,omitempty"`
}

// New creates an empty state record for a first acquisition attempt.
func New(id model.BookID, url string) *DownloadState {
	return &DownloadState{ID: id, URL: url}
}

// HasPage reports whether page index i is recorded as staged.
func (s *DownloadState) HasPage(i int) bool {
	n := sort.SearchInts(s.Pages, i)
	return n < len(s.Pages) && s.Pages[n] == i
}

// MarkPage records page index i as staged, keeping Pages sorted and
// duplicate-free.
func (s *DownloadState) MarkPage(i int) {
	n := sort.SearchInts(s.Pages, i)
	if n < len(s.Pages) && s.Pages[n] == i {
		return
	}
	s.Pages = append(s.Pages, 0)
	copy(s.Pages[n+1:], s.Pages[n:])
	s.Pages[n] = i
}

// MissingPages returns the page indices still to download, ascending.
// It returns nil when metadata is not yet known.
func (s *DownloadState) MissingPages() []int {
	if s.TotalPages == nil {
		return nil
	}
	var missing []int
	for i := 0; i < *s.TotalPages; i++ {
		if !s.HasPage(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// AllPagesStaged reports whether every page in [0, TotalPages) is staged.
func (s *DownloadState) AllPagesStaged() bool {
	return s.TotalPages != nil && len(s.Pages) == *s.TotalPages
}

// SetMetadata records the fetched metadata on a fresh state.
func (s *DownloadState) SetMetadata(md *model.Metadata) {
	s.Title = md.Title
	s.Author = md.Author
	s.Year = md.Year
	total := len(md.Pages)
	s.TotalPages = &total
	s.PageRefs = md.Pages
}
