// Package state persists per-book download progress.
//
// A DownloadState records which pages have been durably staged, the
// cached metadata, and the completion flag. The engine saves the record
// after every page before emitting the matching event, so an observer
// that sees an event can trust the persisted state reflects it.
//
// Records live as one JSON file per book identity and are written with
// the temp-then-rename discipline; they are created on the first
// acquisition attempt and never deleted automatically.
package state
