package download

import "fmt"

// MetadataError reports that a book's catalog page could not be fetched
// or parsed after all retries.
type MetadataError struct {
	URL string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("fetch metadata for %s: %v", e.URL, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// PageError reports that one page could not be downloaded or staged
// after all retries. Page is the 0-based page index.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// BuildError reports that all pages were staged but assembling the
// artifact failed. The staged pages and the state record survive, so a
// rerun goes straight back to assembly.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build artifact: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StateError reports a failure reading or writing the persistent
// download state.
type StateError struct {
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("persist download state: %v", e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }
