// Package event carries acquisition lifecycle notifications from the
// download engine to observers.
//
// # Events
//
// For a single book the engine emits, in order:
//
//	DataFetched      metadata known and persisted
//	Progress         one per staged page (page order not guaranteed)
//	ImagesDownloaded every page staged
//	ArtifactReady    assembled document written, state complete
//
// # Bus
//
// The Bus decouples publishers from observers: each subscriber drains
// its own FIFO queue on its own goroutine, so publishing never blocks
// and a panicking callback is logged and contained. Per-book publish
// order is preserved for every subscriber.
//
//	bus := event.NewBus(nil)
//	defer bus.Close()
//	off := bus.OnProgress(func(p event.Progress) {
//		fmt.Printf("page %d/%d\n", p.Page+1, p.TotalPages)
//	})
//	defer off()
package event
