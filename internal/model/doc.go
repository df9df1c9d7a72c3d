// Package model defines the core data structures shared across booksnap.
//
// # BookID
//
// BookID is the stable identity of one book, derived from its source URL:
//
//	id := model.BookID{Source: "shpl", ItemID: "13552"}
//	id.String() // "shpl-13552" — state file and staging dir key
//
// # Metadata
//
// Metadata is what a source strategy extracts from a book's catalog page:
// title, author, year and one PageRef locator per page.
//
// # Paths
//
// Artifact and staging locations are pure functions of the library root,
// the identity and the title, so they can be recomputed on every run:
//
//	model.ArtifactPath(root, id, title) // <root>/<title>_<id>.pdf
//	model.StagingDir(root, id)          // <root>/staging/<id>
//	model.PagePath(dir, 3)              // <dir>/0003.jpeg
package model
