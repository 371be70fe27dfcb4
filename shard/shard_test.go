package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krisalay/query-cache/eviction"
)

func TestHashSelectorIsStable(t *testing.T) {
	var s HashSelector
	for _, k := range []string{`["pokemon"]`, `["posts"]`, `["post",1]`} {
		first := s.Index(k, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		assert.Equal(t, first, s.Index(k, 8))
	}
	assert.Equal(t, 0, s.Index("anything", 1))
}

func TestShardTracksEviction(t *testing.T) {
	sh := NewShard[int](eviction.NewEvictionPolicy(eviction.FIFO))
	sh.Put("a", 1)
	sh.Put("b", 2)
	assert.Equal(t, 2, sh.Size())

	v, ok := sh.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	sh.Delete("a")
	_, ok = sh.Peek("a")
	assert.False(t, ok)
	assert.Equal(t, "b", sh.Eviction.Evict(func(string) bool { return true }))
}
