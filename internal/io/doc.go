// Package ioutils provides file system and image helpers.
//
// WriteFileAtomic backs every persisted record in the repository: state
// files, normalized page images and the final artifact all follow the
// write-to-temp-then-rename discipline so readers never see a partial
// file.
//
// PageNormalizer converts staged page images to JPEG (and optionally
// scales them down) before PDF assembly.
package ioutils
