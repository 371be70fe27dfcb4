package shard

import (
	"sync"

	"github.com/krisalay/query-cache/eviction"
)

/*
This file defines what a "Shard" is. A shard is a small, independent piece of
the store. Instead of one big map behind one big lock, keys are spread over
many shards. Each shard:
- Holds some portion of the entries
- Has its own eviction bookkeeping
- Has its own lock

Transitions on keys that live in different shards never contend, which is how
fetches for different keys proceed fully concurrently.
*/
type Shard[V any] struct {

	// Mu guards Items and Eviction. The owner of the shard takes it around
	// every read-modify-write; the methods below assume it is held.
	Mu sync.Mutex

	// Items holds the records of this shard, by canonical key.
	Items map[string]V

	// Eviction tracks access order for capacity eviction. Each shard has its
	// OWN policy instance, so there is no shared state between shards.
	Eviction eviction.Policy
}

func NewShard[V any](ev eviction.Policy) *Shard[V] {
	return &Shard[V]{
		Items:    make(map[string]V),
		Eviction: ev,
	}
}

// Get returns the record for k and records the read with the eviction policy.
func (s *Shard[V]) Get(k string) (V, bool) {
	v, ok := s.Items[k]
	if ok {
		s.Eviction.OnGet(k)
	}
	return v, ok
}

// Peek returns the record for k without touching eviction order.
func (s *Shard[V]) Peek(k string) (V, bool) {
	v, ok := s.Items[k]
	return v, ok
}

// Put inserts or replaces the record for k.
func (s *Shard[V]) Put(k string, v V) {
	s.Items[k] = v
	s.Eviction.OnPut(k)
}

// Delete removes k from the shard and from eviction tracking.
func (s *Shard[V]) Delete(k string) {
	delete(s.Items, k)
	s.Eviction.Remove(k)
}

// Size returns how many records the shard holds.
func (s *Shard[V]) Size() int {
	return len(s.Items)
}
