// This file implements FIFO eviction.

package eviction

type fifo struct {
	// queue keeps keys in the order they were created.
	// The front of the queue (index 0) is the oldest key.
	queue []string

	// set keeps track of which keys are currently in the queue.
	set map[string]struct{}
}

func newFIFO() *fifo {
	return &fifo{
		queue: make([]string, 0),
		set:   make(map[string]struct{}),
	}
}

// OnGet is ignored: FIFO only cares about creation order.
func (f *fifo) OnGet(string) {}

func (f *fifo) OnPut(k string) {
	if _, ok := f.set[k]; ok {
		return
	}
	f.queue = append(f.queue, k)
	f.set[k] = struct{}{}
}

// Evict walks from the oldest key and takes the first one allowed to go.
func (f *fifo) Evict(canEvict func(string) bool) string {
	for i, k := range f.queue {
		if !canEvict(k) {
			continue
		}
		f.queue = append(f.queue[:i], f.queue[i+1:]...)
		delete(f.set, k)
		return k
	}
	return ""
}

func (f *fifo) Remove(k string) {
	if _, ok := f.set[k]; !ok {
		return
	}
	delete(f.set, k)

	for i, v := range f.queue {
		if v == k {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
}
