// Package imagestore keeps recently generated images in memory so they can be
// served by URL. The oldest image is evicted once the store is full.
package imagestore

import (
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry is one stored image.
type Entry struct {
	ID        string
	Data      []byte
	MIMEType  string
	RequestID string
	CreatedAt time.Time
}

// Store is a bounded, insertion-ordered image cache. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, Entry]
	max     int
	evicted uint64
}

// New returns a store holding at most max images. max <= 0 disables storage:
// Put still returns an id but nothing is kept.
func New(max int) *Store {
	return &Store{entries: orderedmap.New[string, Entry](), max: max}
}

// Put stores an image and returns its id.
func (s *Store) Put(data []byte, mimeType, requestID string) string {
	e := Entry{
		ID:        uuid.NewString(),
		Data:      data,
		MIMEType:  mimeType,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}
	if s.max <= 0 {
		return e.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.entries.Len() >= s.max {
		oldest := s.entries.Oldest()
		s.entries.Delete(oldest.Key)
		s.evicted++
	}
	s.entries.Set(e.ID, e)
	return e.ID
}

// Get returns the image stored under id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Get(id)
}

// Len returns the number of stored images.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Evicted returns how many images were dropped to make room.
func (s *Store) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}
