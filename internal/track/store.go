package track

import (
	"container/list"
	"sync"
	"time"
)

// Store holds the tracks keyed by ICAO address together with a recency index.
// The list front is the most recently updated track; moving a track to the
// front is O(1).
//
// The per-track lock keeps readers consistent with a writer. Ordering of
// frames for one ICAO is the caller's job; the pipeline gives every ICAO a
// single writer.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	recency *list.List
}

type entry struct {
	mu      sync.Mutex
	track   *Track
	elem    *list.Element
	removed bool
}

// NewStore creates an empty track store
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		recency: list.New(),
	}
}

// Update runs fn against the track for icao under that track's lock,
// creating the track first if it does not exist. When fn reports a change the
// track's LastUpdate is set to now and the track moves to the front of the
// recency order. The returned snapshot reflects the state after fn.
func (s *Store) Update(icao string, now time.Time, fn func(t *Track) bool) (snapshot Track, created bool) {
	for {
		e, isNew := s.getOrCreate(icao, now)

		e.mu.Lock()
		if e.removed {
			// Expired between lookup and lock; start over with a fresh entry.
			e.mu.Unlock()
			continue
		}
		changed := fn(e.track)
		if changed {
			e.track.LastUpdate = now
		}
		snapshot = e.track.Snapshot()
		e.mu.Unlock()

		if changed {
			s.mu.Lock()
			if !e.removed {
				s.recency.MoveToFront(e.elem)
			}
			s.mu.Unlock()
		}
		return snapshot, isNew
	}
}

func (s *Store) getOrCreate(icao string, now time.Time) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[icao]; ok {
		return e, false
	}
	e := &entry{track: NewTrack(icao, now)}
	e.elem = s.recency.PushFront(e)
	s.entries[icao] = e
	return e, true
}

// Get returns a snapshot of the track for icao
func (s *Store) Get(icao string) (Track, bool) {
	s.mu.Lock()
	e, ok := s.entries[icao]
	s.mu.Unlock()
	if !ok {
		return Track{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.track.Snapshot(), true
}

// Len returns the number of tracks
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Recent returns up to limit snapshots, most recently updated first.
// A limit of zero or less returns every track.
func (s *Store) Recent(limit int) []Track {
	s.mu.Lock()
	n := s.recency.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]*entry, 0, n)
	for el := s.recency.Front(); el != nil && len(entries) < n; el = el.Next() {
		entries = append(entries, el.Value.(*entry))
	}
	s.mu.Unlock()

	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tracks = append(tracks, e.track.Snapshot())
		e.mu.Unlock()
	}
	return tracks
}

// Expire removes every track whose LastUpdate is before cutoff and returns
// their final snapshots, oldest first
func (s *Store) Expire(cutoff time.Time) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Track
	for el := s.recency.Back(); el != nil; {
		e := el.Value.(*entry)
		e.mu.Lock()
		if !e.track.LastUpdate.Before(cutoff) {
			e.mu.Unlock()
			break
		}
		prev := el.Prev()
		e.removed = true
		expired = append(expired, e.track.Snapshot())
		e.mu.Unlock()

		s.recency.Remove(el)
		delete(s.entries, e.track.ICAO)
		el = prev
	}
	return expired
}
