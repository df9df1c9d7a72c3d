// Package pdf assembles staged page images into the final document.
//
// The builder embeds JPEG data without re-encoding, so assembly is fast
// and the artifact preserves the staged image bytes exactly. Output is
// written to a temp file and renamed into place.
package pdf
