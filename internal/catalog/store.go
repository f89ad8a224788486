package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Snapshot is an immutable generation of the catalog.
type Snapshot struct {
	Records []Record
	Version uint64
	index   map[string]int
}

func newSnapshot(records []Record, version uint64) (*Snapshot, error) {
	index := make(map[string]int, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[records[i].ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, records[i].ID)
		}
		index[records[i].ID] = i
	}
	return &Snapshot{Records: records, Version: version, index: index}, nil
}

// Store holds the in-memory catalog. Readers get the current snapshot without
// copying; every mutation publishes a new snapshot with a higher version.
type Store struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func NewStore(records []Record) (*Store, error) {
	owned := slices.Clone(records)
	for i := range owned {
		owned[i].Normalize()
	}
	snap, err := newSnapshot(owned, 1)
	if err != nil {
		return nil, err
	}
	return &Store{snap: snap}, nil
}

func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) AllRecords(ctx context.Context) ([]Record, error) {
	return s.Snapshot().Records, nil
}

func (s *Store) Version() uint64 {
	return s.Snapshot().Version
}

func (s *Store) Len() int {
	return len(s.Snapshot().Records)
}

// HealthCheck fails when the catalog is empty, which means nothing was seeded
// or the last refresh replaced it with nothing.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.Len() == 0 {
		return fmt.Errorf("catalog store is empty")
	}
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, error) {
	snap := s.Snapshot()
	i, ok := snap.index[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snap.Records[i], nil
}

// Replace swaps in a whole new generation, e.g. after a remote refresh.
func (s *Store) Replace(records []Record) error {
	owned := slices.Clone(records)
	for i := range owned {
		owned[i].Normalize()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := newSnapshot(owned, s.snap.Version+1)
	if err != nil {
		return err
	}
	s.snap = snap
	return nil
}

// Upsert inserts or replaces one record, keeping the position of an existing
// record so input order stays stable for relevance browsing.
func (s *Store) Upsert(r Record) error {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(func(records []Record, index map[string]int) ([]Record, error) {
		if i, ok := index[r.ID]; ok {
			records[i] = r
			return records, nil
		}
		return append(records, r), nil
	})
}

func (s *Store) Delete(id string) error {
	return s.mutate(func(records []Record, index map[string]int) ([]Record, error) {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return slices.Delete(records, i, i+1), nil
	})
}

// SetWatchlist records watchlist membership. at stamps AddedAt when the title
// is added; removing clears it.
func (s *Store) SetWatchlist(id string, in bool, at time.Time) (Record, error) {
	return s.update(id, func(r *Record) {
		r.InWatchlist = in
		if in {
			r.AddedAt = at
		} else {
			r.AddedAt = time.Time{}
		}
	})
}

func (s *Store) SetProgress(id string, pct int) (Record, error) {
	return s.update(id, func(r *Record) {
		r.WatchProgress = ClampProgress(pct)
	})
}

func (s *Store) update(id string, fn func(*Record)) (Record, error) {
	var updated Record
	err := s.mutate(func(records []Record, index map[string]int) ([]Record, error) {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		fn(&records[i])
		updated = records[i]
		return records, nil
	})
	return updated, err
}

// mutate runs fn on a private copy of the current records and publishes the
// result as the next snapshot.
func (s *Store) mutate(fn func(records []Record, index map[string]int) ([]Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(slices.Clone(s.snap.Records), s.snap.index)
	if err != nil {
		return err
	}
	snap, err := newSnapshot(next, s.snap.Version+1)
	if err != nil {
		return err
	}
	s.snap = snap
	return nil
}
