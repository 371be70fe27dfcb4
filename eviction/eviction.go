package eviction

import (
	"fmt"
	"strings"
)

/*
This file defines how the store decides what to drop when it holds more
entries than its capacity allows.

Capacity eviction is secondary to time-based garbage collection: only entries
nobody observes and nobody is fetching may be chosen. The store passes that
rule in as a predicate.
*/

/*
Policy is the interface that all eviction strategies must follow.

The store does NOT care how eviction works internally. It only calls these
methods, always while holding the owning shard's lock.
*/
type Policy interface {

	// OnGet is called whenever a key is read.
	OnGet(string)

	// OnPut is called whenever a key is created in the store.
	OnPut(string)

	// Remove is called when a key leaves the store for any other reason
	// (garbage collection, explicit removal).
	Remove(string)

	// Evict picks a victim among keys for which canEvict returns true and
	// stops tracking it. It returns "" when no key qualifies.
	Evict(canEvict func(string) bool) string
}

// PolicyType is a simple identifier for supported eviction strategies.
type PolicyType string

const (
	// LRU (Least Recently Used): Evicts the key that has NOT been read for the longest time.
	LRU PolicyType = "LRU"

	// LFU (Least Frequently Used): Evicts the key that has been read the fewest times.
	LFU PolicyType = "LFU"

	// FIFO (First In First Out): Evicts the oldest inserted key, regardless of access.
	FIFO PolicyType = "FIFO"
)

// ParsePolicyType accepts the policy name in any case.
func ParsePolicyType(s string) (PolicyType, error) {
	switch t := PolicyType(strings.ToUpper(strings.TrimSpace(s))); t {
	case LRU, LFU, FIFO:
		return t, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// NewEvictionPolicy is a small factory function.
// Given a PolicyType, it creates the correct eviction policy.
func NewEvictionPolicy(t PolicyType) Policy {
	switch t {
	case LRU:
		return newLRU()
	case LFU:
		return newLFU()
	case FIFO:
		return newFIFO()
	default:
		panic("unknown eviction policy")
	}
}
