package triage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RecordStore owns patient records keyed by id. Callers always receive
// copies; changes go through Update so the version counter stays monotonic.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*PatientRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*PatientRecord)}
}

// Create stores a new record. An id may be reused once its previous record
// has been removed. stored is the last version persisted for the id, if any;
// the new record's version starts above it and above any removed record
// still held in memory.
func (s *RecordStore) Create(rec *PatientRecord, stored int64) (*PatientRecord, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if err := ValidateLevel(rec.TriageLevel); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := stored
	if existing, ok := s.records[rec.ID]; ok {
		if !existing.Removed {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		version = max(version, existing.Version)
	}
	cp := rec.clone()
	cp.Removed = false
	cp.Version = version + 1
	s.records[cp.ID] = cp
	return cp.clone(), nil
}

// Put stores rec as-is, used when restoring persisted state.
func (s *RecordStore) Put(rec *PatientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.clone()
}

// Get returns a copy of the record, including removed ones.
func (s *RecordStore) Get(id string) (*PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	return rec.clone(), nil
}

// Update applies fn to the live record for id. If fn returns an error the
// record is left untouched.
func (s *RecordStore) Update(id string, now time.Time, fn func(*PatientRecord) error) (*PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Removed {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	next := rec.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := ValidateLevel(next.TriageLevel); err != nil {
		return nil, err
	}
	next.ID = rec.ID
	next.ArrivalTime = rec.ArrivalTime
	next.UpdatedAt = now
	next.Version = rec.Version + 1
	s.records[id] = next
	return next.clone(), nil
}

// MarkRemoved tombstones the record. It reports false if the record was
// unknown or already removed.
func (s *RecordStore) MarkRemoved(id string, now time.Time) (*PatientRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Removed {
		return nil, false
	}
	rec.Removed = true
	rec.UpdatedAt = now
	rec.Version++
	return rec.clone(), true
}

// Live returns copies of all non-removed records ordered by arrival.
func (s *RecordStore) Live() []*PatientRecord {
	s.mu.RLock()
	out := make([]*PatientRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Removed {
			out = append(out, rec.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ArrivalTime.Before(out[j].ArrivalTime) })
	return out
}

// Purge drops removed records last updated before cutoff.
func (s *RecordStore) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.Removed && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n
}
