package memo

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the entry bound used when none is configured.
const DefaultCapacity = 100

type boundedEntry[V any] struct {
	key   string
	value V
}

// Bounded is a thread-safe map with a maximum entry count. Eviction is FIFO
// by insertion order: reads never promote an entry, so once the bound is
// exceeded the oldest-inserted keys are dropped first.
type Bounded[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is newest
}

// NewBounded creates a Bounded holding at most capacity entries.
func NewBounded[V any](capacity int) *Bounded[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value stored for key.
func (b *Bounded[V]) Get(key string) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*boundedEntry[V]).value, true
}

// Add stores value under key unless key is already present, in which case
// the existing value is kept. It returns the value now held for key and the
// number of entries evicted to stay within capacity.
func (b *Bounded[V]) Add(key string, value V) (V, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, ok := b.items[key]; ok {
		return elem.Value.(*boundedEntry[V]).value, 0
	}

	b.items[key] = b.order.PushFront(&boundedEntry[V]{key: key, value: value})

	evicted := 0
	for b.order.Len() > b.capacity {
		b.removeOldest()
		evicted++
	}
	return value, evicted
}

// Len returns the number of entries currently held.
func (b *Bounded[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// Capacity returns the entry bound.
func (b *Bounded[V]) Capacity() int {
	return b.capacity
}

// keys returns the held keys from oldest to newest.
func (b *Bounded[V]) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, b.order.Len())
	for elem := b.order.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*boundedEntry[V]).key)
	}
	return keys
}

// Clear removes all entries and returns how many there were.
func (b *Bounded[V]) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.order.Len()
	b.items = make(map[string]*list.Element)
	b.order.Init()
	return n
}

func (b *Bounded[V]) removeOldest() {
	elem := b.order.Back()
	if elem == nil {
		return
	}
	b.order.Remove(elem)
	delete(b.items, elem.Value.(*boundedEntry[V]).key)
}
