// Package http provides the HTTP client shared by the source strategies.
//
// The client carries a configurable User-Agent and per-request timeout,
// decodes JSON endpoints, and downloads files atomically: the body is
// streamed to a temp file and renamed into place only once complete, so
// staged page images are never observed half-written.
package http
