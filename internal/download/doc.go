// Package download runs book acquisitions.
//
// # Engine
//
// The Engine takes one book URL through the full pipeline:
//
//  1. Match a source strategy and resolve the book identity
//  2. Load persistent state; a complete book returns immediately
//  3. Fetch metadata (with retries) unless the state already holds it
//  4. Download the missing pages under the source's policy
//  5. Assemble the artifact and mark the state complete
//
// Progress is observable on the event bus: DataFetched, one Progress
// per staged page, ImagesDownloaded, ArtifactReady.
//
// # Resumability
//
// Each staged page is written atomically and recorded in the state
// before its Progress event fires. An interrupted or failed run leaves
// a consistent record behind; the next run re-downloads only what is
// missing and never refetches metadata the record already holds.
//
// # Failure taxonomy
//
// Acquire wraps failures in one of MetadataError, PageError, BuildError
// or StateError so callers can tell which stage gave up. Unsupported
// and malformed URLs surface the source package's sentinel errors.
//
// # Retry logic
//
// Metadata and page fetches retry with exponential backoff, bounded by
// settings.MetadataMaxRetries and settings.PageMaxRetries. Each attempt
// carries its own fetch timeout and counts against the source's
// dispatch rate limiter.
package download
