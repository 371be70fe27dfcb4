// This file implements LRU eviction.

package eviction

// lruNode represents ONE key inside the LRU structure.
type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

// lru keeps keys in a doubly-linked list ordered from most to least recently read.
type lru struct {
	// nodes maps keys to their list nodes for O(1) moves.
	nodes map[string]*lruNode

	// head is the MOST recently used key
	head *lruNode

	// tail is the LEAST recently used key
	tail *lruNode
}

func newLRU() *lru {
	return &lru{nodes: make(map[string]*lruNode)}
}

func (l *lru) OnGet(k string) {
	if n, ok := l.nodes[k]; ok {
		l.moveToFront(n)
	}
}

func (l *lru) OnPut(k string) {
	if _, ok := l.nodes[k]; ok {
		return
	}
	n := &lruNode{key: k}
	l.nodes[k] = n
	l.addFront(n)
}

// Evict walks from the least recently used end and takes the first evictable key.
func (l *lru) Evict(canEvict func(string) bool) string {
	for n := l.tail; n != nil; n = n.prev {
		if !canEvict(n.key) {
			continue
		}
		l.unlink(n)
		delete(l.nodes, n.key)
		return n.key
	}
	return ""
}

func (l *lru) Remove(k string) {
	if n, ok := l.nodes[k]; ok {
		l.unlink(n)
		delete(l.nodes, k)
	}
}

func (l *lru) moveToFront(n *lruNode) {
	if l.head == n {
		return
	}
	l.unlink(n)
	l.addFront(n)
}

func (l *lru) addFront(n *lruNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *lru) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
