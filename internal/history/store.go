// Package history keeps the extraction records of one session, newest first,
// with a single active record.
package history

import (
	"sync"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Store is the session's extraction history. The active record is held by
// id, so the active view and the history entry can never drift apart.
type Store struct {
	mu       sync.RWMutex
	records  []domain.ExtractionRecord
	activeID string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add prepends rec and makes it active.
func (s *Store) Add(rec domain.ExtractionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append([]domain.ExtractionRecord{rec.Clone()}, s.records...)
	s.activeID = rec.ID
}

// Active returns a copy of the active record.
func (s *Store) Active() (domain.ExtractionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(s.activeID); i >= 0 {
		return s.records[i].Clone(), true
	}
	return domain.ExtractionRecord{}, false
}

// ActiveID returns the id of the active record, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive switches the active record. Unknown ids are ignored.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return false
	}
	s.activeID = id
	return true
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (domain.ExtractionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return domain.ExtractionRecord{}, false
}

// Amend replaces the record with id by update(copy) at the same position.
// The id is preserved even if update changes it. It returns the stored
// result and false when no record has id.
func (s *Store) Amend(id string, update func(domain.ExtractionRecord) domain.ExtractionRecord) (domain.ExtractionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return domain.ExtractionRecord{}, false
	}

	next := update(s.records[i].Clone()).Clone()
	next.ID = id
	s.records[i] = next
	return next.Clone(), true
}

// List returns copies of all records, newest first.
func (s *Store) List() []domain.ExtractionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExtractionRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear empties the history and the active pointer.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.activeID = ""
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}
