// Package library is the top-level catalog API.
//
// A Library owns one storage root and everything under it: state
// records, staged pages and assembled artifacts. Callers ask for books
// by URL and get Tickets back; the library deduplicates concurrent
// requests for the same book, so the pipeline runs at most once per
// identity regardless of how many callers want it.
//
//	lib, err := library.Build(library.WithSettings(settings))
//	...
//	defer lib.Close()
//
//	ticket, err := lib.GetBook("http://elib.shpl.ru/ru/nodes/13552")
//	...
//	path, err := ticket.Result(ctx)
package library
