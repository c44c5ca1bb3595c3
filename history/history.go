// Package history keeps the ordered list of document snapshots produced by a
// session and the pointer to the one currently shown.
//
// A streaming request opens a speculative entry with Begin, rewrites it in
// place with Update while chunks arrive, then closes it with Commit or drops
// it with Rollback. Each speculative entry is identified by a Ticket; a
// ticket becomes stale as soon as a newer Begin supersedes it, and stale
// tickets can no longer write.
package history

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrIndexOutOfRange is returned when selecting a version that does not exist.
	ErrIndexOutOfRange = errors.New("history: index out of range")
	// ErrStale is returned when a ticket no longer owns the speculative entry.
	ErrStale = errors.New("history: stale ticket")
	// ErrSpeculativeOpen is returned when an operation needs a settled history
	// while a request is still streaming.
	ErrSpeculativeOpen = errors.New("history: request in flight")
)

// Ticket identifies one speculative entry.
type Ticket struct {
	Index int
	Gen   uint64
}

// Store is a linear version history. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	versions []string
	current  int
	gen      uint64
	open     *Ticket
}

// New returns a store holding the single snapshot seed.
func New(seed string) *Store {
	return &Store{versions: []string{seed}}
}

// Begin opens a speculative entry holding initial. Entries after the current
// one are discarded and the new entry becomes current. A speculative entry
// still open from an earlier request is rolled back first.
func (s *Store) Begin(initial string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked(initial)
}

// BeginFromCurrent opens a speculative entry that starts as a copy of the
// current snapshot.
func (s *Store) BeginFromCurrent() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		s.rollbackLocked()
	}
	return s.beginLocked(s.versions[s.current])
}

func (s *Store) beginLocked(initial string) Ticket {
	if s.open != nil {
		s.rollbackLocked()
	}
	s.versions = append(s.versions[:s.current+1], initial)
	s.current = len(s.versions) - 1
	s.gen++
	t := Ticket{Index: s.current, Gen: s.gen}
	s.open = &t
	return t
}

// Update overwrites the speculative entry owned by t.
func (s *Store) Update(t Ticket, snapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(t) {
		return ErrStale
	}
	s.versions[t.Index] = snapshot
	return nil
}

// Commit closes the speculative entry owned by t, keeping its content.
func (s *Store) Commit(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(t) {
		return ErrStale
	}
	s.open = nil
	return nil
}

// Rollback removes the speculative entry owned by t and moves current back
// to the entry before it.
func (s *Store) Rollback(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(t) {
		return ErrStale
	}
	s.rollbackLocked()
	return nil
}

func (s *Store) rollbackLocked() {
	i := s.open.Index
	s.versions = s.versions[:i]
	s.current = i - 1
	s.open = nil
}

func (s *Store) ownsLocked(t Ticket) bool {
	return s.open != nil && *s.open == t
}

// Select makes version i current. Refused while a speculative entry is open.
func (s *Store) Select(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		return ErrSpeculativeOpen
	}
	if i < 0 || i >= len(s.versions) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.versions))
	}
	s.current = i
	return nil
}

// SetCurrent overwrites the current snapshot in place. Refused while a
// speculative entry is open.
func (s *Store) SetCurrent(doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != nil {
		return ErrSpeculativeOpen
	}
	s.versions[s.current] = doc
	return nil
}

// Current returns the current index and snapshot.
func (s *Store) Current() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.versions[s.current]
}

// At returns snapshot i.
func (s *Store) At(i int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.versions) {
		return "", fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.versions))
	}
	return s.versions[i], nil
}

// Len returns the number of snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// Versions returns a copy of all snapshots and the current index.
func (s *Store) Versions() ([]string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.versions))
	copy(out, s.versions)
	return out, s.current
}

// Open reports whether a speculative entry is open.
func (s *Store) Open() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open != nil
}
