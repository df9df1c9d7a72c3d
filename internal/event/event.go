package event

import "github.com/booksnap/booksnap/internal/model"

// Event is one acquisition lifecycle notification. Events are immutable
// values produced by the engine; observers must not retain references
// into engine state.
type Event interface {
	// BookID identifies the acquisition the event belongs to.
	BookID() model.BookID
}

// DataFetched is emitted once the book's metadata has been fetched and
// persisted.
type DataFetched struct {
	ID         model.BookID
	Title      string
	TotalPages int
}

func (e DataFetched) BookID() model.BookID { return e.ID }

// Progress is emitted after a page has been durably staged and recorded
// in the download state. Pages may arrive out of index order.
type Progress struct {
	ID         model.BookID
	Page       int
	TotalPages int
}

func (e Progress) BookID() model.BookID { return e.ID }

// ImagesDownloaded is emitted when every page of the book is staged.
type ImagesDownloaded struct {
	ID model.BookID
}

func (e ImagesDownloaded) BookID() model.BookID { return e.ID }

// ArtifactReady is emitted after the assembled document has been written
// and the state marked complete.
type ArtifactReady struct {
	ID   model.BookID
	Path string
}

func (e ArtifactReady) BookID() model.BookID { return e.ID }
