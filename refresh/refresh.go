// This file defines the external event sources that ask the cache to refresh
// data that is on screen, such as a window regaining focus.

package refresh

import "sync"

/*
Signal is an event source the cache subscribes to. Every time the signal
fires, queries that opted into refetch-on-refocus are refetched.

The cache does NOT care where the signal comes from: a browser focus event
bridged over HTTP, a terminal regaining focus, a test calling Notify.
*/
type Signal interface {

	/*
		Subscribe registers fn to run on every event and returns a function that
		removes it. fn MUST be fast: it runs on the notifier's goroutine.
	*/
	Subscribe(fn func()) (cancel func())
}

// Broadcaster is a Signal fired manually through Notify.
type Broadcaster struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]func()
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]func())}
}

func (b *Broadcaster) Subscribe(fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Notify fires the signal. Subscribers run synchronously, outside the lock.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
