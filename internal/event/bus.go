package event

import (
	"log/slog"
	"sync"
)

// Bus fans acquisition events out to subscribers.
//
// Delivery is best-effort and decoupled from the publisher: each
// subscriber owns a FIFO queue drained by its own goroutine, so a slow
// or panicking callback never blocks or fails the engine. Events
// published for one book are delivered to each subscriber in publish
// order; no ordering holds across different books or subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	wg     sync.WaitGroup
	log    *slog.Logger
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	fn     func(Event)
}

// NewBus creates a Bus. A nil logger defaults to slog.Default.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[int]*subscriber),
		log:  log,
	}
}

// Subscribe registers fn for every future event and returns a function
// that cancels the subscription. Remaining queued events are still
// delivered after cancellation.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.drain(sub)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Publish enqueues ev for every current subscriber and returns
// immediately.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// Close stops accepting events, delivers everything already queued and
// waits for the subscriber goroutines to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = map[int]*subscriber{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
}

func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.closed {
			sub.mu.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		b.deliver(sub.fn, ev)
	}
}

// deliver invokes a callback, isolating the bus from subscriber panics.
func (b *Bus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", "event", ev, "panic", r)
		}
	}()
	fn(ev)
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// OnDataFetched subscribes to DataFetched events only.
func (b *Bus) OnDataFetched(fn func(DataFetched)) (unsubscribe func()) {
	return b.Subscribe(func(ev Event) {
		if e, ok := ev.(DataFetched); ok {
			fn(e)
		}
	})
}

// OnProgress subscribes to Progress events only.
func (b *Bus) OnProgress(fn func(Progress)) (unsubscribe func()) {
	return b.Subscribe(func(ev Event) {
		if e, ok := ev.(Progress); ok {
			fn(e)
		}
	})
}

// OnImagesDownloaded subscribes to ImagesDownloaded events only.
func (b *Bus) OnImagesDownloaded(fn func(ImagesDownloaded)) (unsubscribe func()) {
	return b.Subscribe(func(ev Event) {
		if e, ok := ev.(ImagesDownloaded); ok {
			fn(e)
		}
	})
}

// OnArtifactReady subscribes to ArtifactReady events only.
func (b *Bus) OnArtifactReady(fn func(ArtifactReady)) (unsubscribe func()) {
	return b.Subscribe(func(ev Event) {
		if e, ok := ev.(ArtifactReady); ok {
			fn(e)
		}
	})
}
