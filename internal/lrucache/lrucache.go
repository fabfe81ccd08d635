// Package lrucache provides an Adaptive Replacement Cache (ARC) bounding how
// many materialized-ghost records ParallelComm keeps cached.
//
// ARC is a cache replacement algorithm that balances recency and frequency
// without a fixed, hand-tuned ratio between them. It maintains four lists:
//
//	T1: recently materialized ghosts seen once (recency)
//	T2: ghosts touched again after materialization (frequency)
//	B1: ghost history evicted from T1 (adaptation signal)
//	B2: ghost history evicted from T2 (adaptation signal)
//
// Exotic multi-peer topologies (many ranks sharing one interface entity)
// can accumulate many ghost records. This cache bounds how many of those
// records a rank keeps at once, independent of the wire-format peer cap
// (see parallel.MaxSharedProcs). Evicting a record does not delete the
// ghost entity itself from the mesh.
package lrucache

import (
	"container/list"
	"sync"
)

type entry struct {
	key      uint64
	value    any
	accessed int
}

type arcList struct {
	ll      *list.List
	index   map[uint64]*list.Element
	maxSize int
}

func newARCList(maxSize int) *arcList {
	return &arcList{ll: list.New(), index: make(map[uint64]*list.Element), maxSize: maxSize}
}

func (l *arcList) len() int { return l.ll.Len() }

func (l *arcList) pushFront(e *entry) *list.Element {
	el := l.ll.PushFront(e)
	l.index[e.key] = el
	return el
}

func (l *arcList) remove(key uint64) *entry {
	el, ok := l.index[key]
	if !ok {
		return nil
	}
	l.ll.Remove(el)
	delete(l.index, key)
	return el.Value.(*entry)
}

func (l *arcList) removeLRU() *entry {
	el := l.ll.Back()
	if el == nil {
		return nil
	}
	e := el.Value.(*entry)
	l.ll.Remove(el)
	delete(l.index, e.key)
	return e
}

// Cache is a handle-keyed ARC cache. Safe for concurrent use.
type Cache struct {
	mu             sync.Mutex
	t1, t2, b1, b2 *arcList
	target         int // adaptation parameter p: target size of T1
	capacity       int

	hits, misses int64
}

// New creates a Cache that keeps at most capacity entries materialized
// across T1+T2 (B1/B2 track only keys, not values, for adaptation).
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		t1:       newARCList(capacity),
		t2:       newARCList(capacity),
		b1:       newARCList(capacity),
		b2:       newARCList(capacity),
		capacity: capacity,
	}
}

// Get returns the cached value for a ghost handle, promoting it to T2 (the
// frequent list) on a hit.
func (c *Cache) Get(key uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.t1.remove(key); e != nil {
		e.accessed++
		c.t2.pushFront(e)
		c.hits++
		return e.value, true
	}
	if e := c.t2.remove(key); e != nil {
		e.accessed++
		c.t2.pushFront(e)
		c.hits++
		return e.value, true
	}
	c.misses++
	return nil, false
}

// Put materializes a ghost entity's cached payload, evicting by the ARC
// policy if the cache is at capacity.
func (c *Cache) Put(key uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.t1.remove(key); e != nil {
		e.value = value
		e.accessed++
		c.t2.pushFront(e)
		return
	}
	if e := c.t2.remove(key); e != nil {
		e.value = value
		e.accessed++
		c.t2.pushFront(e)
		return
	}

	inB1 := c.b1.index[key] != nil
	inB2 := c.b2.index[key] != nil

	switch {
	case inB1:
		c.target = min(c.capacity, c.target+max(1, c.b2.len()/max(1, c.b1.len())))
		c.b1.remove(key)
		c.replace(key)
		c.t2.pushFront(&entry{key: key, value: value, accessed: 1})
	case inB2:
		c.target = max(0, c.target-max(1, c.b1.len()/max(1, c.b2.len())))
		c.b2.remove(key)
		c.replace(key)
		c.t2.pushFront(&entry{key: key, value: value, accessed: 1})
	default:
		if c.t1.len()+c.b1.len() == c.capacity {
			if c.t1.len() < c.capacity {
				c.b1.removeLRU()
				c.replace(key)
			} else {
				c.t1.removeLRU()
			}
		} else if c.t1.len()+c.b1.len() < c.capacity && c.t1.len()+c.t2.len()+c.b1.len()+c.b2.len() >= c.capacity {
			if c.t1.len()+c.t2.len()+c.b1.len()+c.b2.len() == 2*c.capacity {
				c.b2.removeLRU()
			}
			c.replace(key)
		}
		c.t1.pushFront(&entry{key: key, value: value, accessed: 1})
	}
}

// replace evicts one entry from T1 or T2 into its ghost list, per the
// standard ARC replace() step, biased by the current target p.
func (c *Cache) replace(key uint64) {
	if c.t1.len() > 0 && (c.t1.len() > c.target || (c.b2.index[key] != nil && c.t1.len() == c.target)) {
		if e := c.t1.removeLRU(); e != nil {
			c.b1.pushFront(&entry{key: e.key})
		}
	} else if c.t2.len() > 0 {
		if e := c.t2.removeLRU(); e != nil {
			c.b2.pushFront(&entry{key: e.key})
		}
	}
}

// Len returns the number of materialized (value-holding) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t1.len() + c.t2.len()
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
