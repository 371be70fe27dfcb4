package shard

import "hash/fnv"

/*
This file decides HOW a cache key is assigned to a shard.
If every key went to the same shard, that shard's lock would serialize
unrelated queries.
*/

// Selector decides which of n shards owns a given key.
type Selector interface {
	Index(key string, n int) int
}

// HashSelector spreads keys with FNV-1a, a fast non-cryptographic hash.
type HashSelector struct{}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Index is stable for a given key and shard count.
func (HashSelector) Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(hash(key) % uint32(n))
}
