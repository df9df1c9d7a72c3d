// Package source adapts the supported online libraries.
//
// # Strategy
//
// Each source implements Strategy: identity resolution, metadata
// fetching and single-page image download, plus an immutable Policy
// (concurrency bound, request spacing) the engine honors exactly.
// Adding a source means implementing Strategy and listing it in the
// registry; the engine never changes.
//
// # Registry
//
// The Registry selects a strategy by URL, first match wins, and owns the
// per-source semaphore and rate limiter. Both are keyed by source tag,
// so every book acquired from one source shares that source's bound:
// two prlib books together never exceed prlib's concurrency limit.
//
// # Sources
//
//	prlib  www.prlib.ru      zoomable tiled scans via dezoomify-rs
//	shpl   elib.shpl.ru      plain JPEG zoom levels, heavily rate limited
package source
