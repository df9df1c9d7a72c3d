package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// BookID identifies one book across runs.
//
// It is derived from the source URL by the matching source strategy:
// the source tag plus the source-native item id. The string form is
// used for state file names and staging directory names, so it must
// stay stable between runs.
//
// Example:
//
//	id := BookID{Source: "shpl", ItemID: "13552"}
//	id.String() // "shpl-13552"
type BookID struct {
	// Source is the tag of the strategy that resolved this id ("prlib", "shpl").
	Source string `json:"source"`

	// ItemID is the source-native identifier of the book.
	ItemID string `json:"item_id"`
}

// String returns the stable key form used for file naming and catalog lookup.
func (id BookID) String() string {
	return id.Source + "-" + id.ItemID
}

// IsZero reports whether the id has not been resolved.
func (id BookID) IsZero() bool {
	return id.Source == "" && id.ItemID == ""
}

// PageRef locates one page image within its source.
//
// The engine treats it as opaque: for shpl it is a page id, for prlib a
// fully formed tile address. Only the strategy that produced it knows
// how to turn it into image bytes.
type PageRef string

// Metadata is what a source strategy learns about a book from its
// catalog page: display fields plus one PageRef per page.
type Metadata struct {
	// Title is the book title as published by the source.
	Title string

	// Author is the author line, empty when the source does not expose one.
	Author string

	// Year is the publication year as free text (sources disagree on format).
	Year string

	// Pages holds one locator per page, in reading order.
	Pages []PageRef
}

// ArtifactPath computes where the assembled document for a book lives
// under the library root. The path is derived from identity and title
// only, so it can be recomputed on every run.
//
// Invalid filename characters are replaced and the path is truncated to
// stay within Windows path length limits.
func ArtifactPath(root string, id BookID, title string) string {
	name := SanitizeFileName(title)
	if name == "" {
		name = id.String()
	}
	path := filepath.Join(root, fmt.Sprintf("%s_%s.pdf", name, id.String()))
	if len(path) >= 260 {
		maxLen := 259 - len(filepath.Join(root, "_"+id.String()+".pdf"))
		if maxLen > 0 && maxLen < len(name) {
			path = filepath.Join(root, fmt.Sprintf("%s_%s.pdf", name[:maxLen], id.String()))
		}
	}
	return path
}

// StagingDir computes the per-book directory for staged page images.
func StagingDir(root string, id BookID) string {
	return filepath.Join(root, "staging", id.String())
}

// PagePath computes the staged file path for one page. Pages are
// zero-padded so a lexical sort matches index order.
func PagePath(stagingDir string, page int) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%04d.jpeg", page))
}

var (
	invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`\.+$`)
	multiSpace       = regexp.MustCompile(`\s+`)
)

// SanitizeFileName removes or replaces characters that are invalid in
// file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Trailing whitespace is removed
func SanitizeFileName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = multiSpace.ReplaceAllString(name, " ")
	return strings.TrimRight(name, " ")
}
