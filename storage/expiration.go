package storage

import (
	"container/heap"
	"sync"
	"time"
)

// expiryEntry is one scheduled deadline. index is its slot in the heap.
type expiryEntry struct {
	key      string
	deadline time.Time
	index    int
}

// expiryHeap orders entries by deadline, then key, so that keys sharing a
// deadline pop in a stable order
type expiryHeap []*expiryEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].key < h[j].key
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	entry := x.(*expiryEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// ExpirationIndex tracks the deadline of every key that has one. A key
// holds at most one deadline; scheduling it again replaces the old one.
//
// The index is safe for concurrent use. MemoryStorage only mutates it while
// holding the shard lock of the key involved, so an entry always mirrors the
// Expiry of the stored value.
type ExpirationIndex struct {
	mu      sync.Mutex
	heap    expiryHeap
	entries map[string]*expiryEntry
}

// NewExpirationIndex returns an empty index
func NewExpirationIndex() *ExpirationIndex {
	return &ExpirationIndex{
		entries: make(map[string]*expiryEntry),
	}
}

// Schedule sets the deadline of key, superseding any earlier schedule.
// It reports whether key now holds the earliest deadline in the index.
func (x *ExpirationIndex) Schedule(key string, deadline time.Time) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if entry, ok := x.entries[key]; ok {
		entry.deadline = deadline
		heap.Fix(&x.heap, entry.index)
		return x.heap[0] == entry
	}

	entry := &expiryEntry{key: key, deadline: deadline}
	heap.Push(&x.heap, entry)
	x.entries[key] = entry
	return x.heap[0] == entry
}

// Clear removes the deadline of key. It reports whether one was scheduled.
func (x *ExpirationIndex) Clear(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.entries[key]
	if !ok {
		return false
	}

	heap.Remove(&x.heap, entry.index)
	delete(x.entries, key)
	return true
}

// Deadline returns the deadline scheduled for key
func (x *ExpirationIndex) Deadline(key string) (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.deadline, true
}

// IsExpired reports whether key has a deadline at or before now. A key with
// no deadline never expires.
func (x *ExpirationIndex) IsExpired(key string, now time.Time) bool {
	deadline, ok := x.Deadline(key)
	return ok && !deadline.After(now)
}

// Next returns the key with the earliest deadline
func (x *ExpirationIndex) Next() (string, time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.heap) == 0 {
		return "", time.Time{}, false
	}
	return x.heap[0].key, x.heap[0].deadline, true
}

// Sample inspects up to n entries from the top of the heap and counts how
// many are due at now. Entries near the root have the nearest deadlines.
func (x *ExpirationIndex) Sample(n int, now time.Time) (sampled, due int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if n > len(x.heap) {
		n = len(x.heap)
	}

	for i := 0; i < n; i++ {
		if !x.heap[i].deadline.After(now) {
			due++
		}
	}
	return n, due
}

// Len returns the number of scheduled keys
func (x *ExpirationIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.heap)
}

// Reset drops every schedule
func (x *ExpirationIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.heap = nil
	x.entries = make(map[string]*expiryEntry)
}
