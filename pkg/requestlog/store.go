package requestlog

import (
	"sync"

	"github.com/kothbackend/kothd/pkg/metrics"
)

// DefaultCapacity is the number of entries a Store keeps when no capacity
// is configured.
const DefaultCapacity = 1000

// Logger is the minimal interface for recording entries. The middleware
// commits through it; tests can substitute a recorder.
type Logger interface {
	Add(entry *Entry)
}

// Reader is the read side used by the viewer endpoints.
type Reader interface {
	Recent(limit int) []*Entry
	Get(id string) *Entry
	Len() int
	Capacity() int
}

// Store is a fixed-capacity, concurrency-safe history of entries.
// When full, adding an entry evicts the oldest one by insertion order.
type Store struct {
	mu       sync.RWMutex
	ring     []*Entry
	head     int // index of the oldest entry
	size     int
	capacity int
}

// NewStore creates a Store holding at most capacity entries.
// A non-positive capacity selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		ring:     make([]*Entry, capacity),
		capacity: capacity,
	}
}

// Add appends entry, evicting the oldest entry if the store is full.
// Nil entries are ignored.
func (s *Store) Add(entry *Entry) {
	if entry == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < s.capacity {
		s.ring[(s.head+s.size)%s.capacity] = entry
		s.size++
		reportSize(s.size)
		return
	}

	// Full: the slot of the oldest entry receives the newest one.
	s.ring[s.head] = entry
	s.head = (s.head + 1) % s.capacity
}

// Recent returns a snapshot ordered most-recent-first. When limit > 0 at
// most limit entries are returned.
func (s *Store) Recent(limit int) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*Entry, n)
	for i := range n {
		out[i] = s.ring[(s.head+s.size-1-i)%s.capacity]
	}
	return out
}

// Get returns the entry with the given ID, or nil.
func (s *Store) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.size {
		if e := s.ring[(s.head+i)%s.capacity]; e.ID == id {
			return e
		}
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.size
	clear(s.ring)
	s.head = 0
	s.size = 0
	reportSize(0)
	return n
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the maximum number of entries held.
func (s *Store) Capacity() int {
	return s.capacity
}

func reportSize(n int) {
	if metrics.StoreEntries != nil {
		_ = metrics.StoreEntries.Set(float64(n))
	}
}
