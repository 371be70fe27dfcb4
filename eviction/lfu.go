// This file implements LFU eviction.

package eviction

import "sort"

// lfuNode represents one key tracked by LFU.
type lfuNode struct {
	key  string
	freq int // how many times this key was read, starting at 1
	seq  uint64
}

type lfu struct {
	// nodes lets us quickly find the node for a key
	nodes map[string]*lfuNode

	// freqMap groups keys by how many times they were read
	freqMap map[int]map[string]*lfuNode

	// seq orders keys inside a bucket so ties are broken by age, not map order.
	seq uint64
}

func newLFU() *lfu {
	return &lfu{
		nodes:   make(map[string]*lfuNode),
		freqMap: make(map[int]map[string]*lfuNode),
	}
}

func (l *lfu) OnGet(k string) {
	n, ok := l.nodes[k]
	if !ok {
		return
	}
	l.detach(n)
	n.freq++
	l.attach(n)
}

func (l *lfu) OnPut(k string) {
	if _, ok := l.nodes[k]; ok {
		return
	}
	l.seq++
	n := &lfuNode{key: k, freq: 1, seq: l.seq}
	l.nodes[k] = n
	l.attach(n)
}

/*
Evict scans buckets from the lowest frequency upwards. Inside a bucket the
oldest key goes first. Keys rejected by canEvict are skipped, so a hot
unevictable key never blocks eviction of a colder one.
*/
func (l *lfu) Evict(canEvict func(string) bool) string {
	freqs := make([]int, 0, len(l.freqMap))
	for f := range l.freqMap {
		freqs = append(freqs, f)
	}
	sort.Ints(freqs)

	for _, f := range freqs {
		bucket := make([]*lfuNode, 0, len(l.freqMap[f]))
		for _, n := range l.freqMap[f] {
			bucket = append(bucket, n)
		}
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].seq < bucket[j].seq })

		for _, n := range bucket {
			if !canEvict(n.key) {
				continue
			}
			l.detach(n)
			delete(l.nodes, n.key)
			return n.key
		}
	}
	return ""
}

func (l *lfu) Remove(k string) {
	n, ok := l.nodes[k]
	if !ok {
		return
	}
	l.detach(n)
	delete(l.nodes, k)
}

func (l *lfu) attach(n *lfuNode) {
	if l.freqMap[n.freq] == nil {
		l.freqMap[n.freq] = make(map[string]*lfuNode)
	}
	l.freqMap[n.freq][n.key] = n
}

func (l *lfu) detach(n *lfuNode) {
	delete(l.freqMap[n.freq], n.key)
	if len(l.freqMap[n.freq]) == 0 {
		delete(l.freqMap, n.freq)
	}
}
