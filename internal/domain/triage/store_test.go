package triage

import (
	"errors"
	"testing"
)

func TestRecordStore_CreateAndGet(t *testing.T) {
	s := NewRecordStore()
	rec, err := s.Create(&PatientRecord{ID: "p1", Name: "Ana", TriageLevel: 3, ArrivalTime: at(0)}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	got, err := s.Get("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Name = "changed"
	again, _ := s.Get("p1")
	if again.Name != "Ana" {
		t.Errorf("Get must return a copy, store saw %q", again.Name)
	}
}

func TestRecordStore_Create_Validation(t *testing.T) {
	s := NewRecordStore()
	if _, err := s.Create(&PatientRecord{TriageLevel: 3}, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing id, got %v", err)
	}
	if _, err := s.Create(&PatientRecord{ID: "p1", TriageLevel: 0}, 0); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestRecordStore_Create_DuplicateAndReadmit(t *testing.T) {
	s := NewRecordStore()
	s.Create(&PatientRecord{ID: "p1", TriageLevel: 3, ArrivalTime: at(0)}, 0)
	if _, err := s.Create(&PatientRecord{ID: "p1", TriageLevel: 2}, 0); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	if _, ok := s.MarkRemoved("p1", at(5)); !ok {
		t.Fatal("expected remove to succeed")
	}
	rec, err := s.Create(&PatientRecord{ID: "p1", TriageLevel: 2, ArrivalTime: at(10)}, 0)
	if err != nil {
		t.Fatalf("re-admission after removal: %v", err)
	}
	if rec.Version != 3 {
		t.Errorf("expected version to continue from removed record, got %d", rec.Version)
	}
}

func TestRecordStore_Create_ContinuesFromStoredVersion(t *testing.T) {
	s := NewRecordStore()
	rec, err := s.Create(&PatientRecord{ID: "p1", TriageLevel: 3, ArrivalTime: at(0)}, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 8 {
		t.Errorf("expected version 8 above the stored row, got %d", rec.Version)
	}

	s.MarkRemoved("p1", at(1))
	rec, _ = s.Create(&PatientRecord{ID: "p1", TriageLevel: 3, ArrivalTime: at(2)}, 2)
	if rec.Version != 10 {
		t.Errorf("expected the removed in-memory version to win, got %d", rec.Version)
	}
}

func TestRecordStore_Update_PreservesArrival(t *testing.T) {
	s := NewRecordStore()
	s.Create(&PatientRecord{ID: "p1", TriageLevel: 3, ArrivalTime: at(0)}, 0)
	rec, err := s.Update("p1", at(30), func(r *PatientRecord) error {
		r.TriageLevel = 1
		r.ArrivalTime = at(30)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.ArrivalTime.Equal(at(0)) {
		t.Errorf("arrival time must not change, got %v", rec.ArrivalTime)
	}
	if rec.TriageLevel != 1 || rec.Version != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRecordStore_Update_RejectsInvalid(t *testing.T) {
	s := NewRecordStore()
	s.Create(&PatientRecord{ID: "p1", TriageLevel: 3, ArrivalTime: at(0)}, 0)
	_, err := s.Update("p1", at(1), func(r *PatientRecord) error {
		r.TriageLevel = 7
		return nil
	})
	if !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	rec, _ := s.Get("p1")
	if rec.TriageLevel != 3 || rec.Version != 1 {
		t.Errorf("failed update must leave record untouched, got %+v", rec)
	}
}

func TestRecordStore_Update_Removed(t *testing.T) {
	s := NewRecordStore()
	s.Create(&PatientRecord{ID: "p1", TriageLevel: 3}, 0)
	s.MarkRemoved("p1", at(1))
	_, err := s.Update("p1", at(2), func(*PatientRecord) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := s.MarkRemoved("p1", at(3)); ok {
		t.Error("second MarkRemoved must report false")
	}
}

func TestRecordStore_LiveAndPurge(t *testing.T) {
	s := NewRecordStore()
	s.Create(&PatientRecord{ID: "b", TriageLevel: 3, ArrivalTime: at(2)}, 0)
	s.Create(&PatientRecord{ID: "a", TriageLevel: 3, ArrivalTime: at(1)}, 0)
	s.Create(&PatientRecord{ID: "c", TriageLevel: 3, ArrivalTime: at(3)}, 0)
	s.MarkRemoved("c", at(4))

	live := s.Live()
	if len(live) != 2 || live[0].ID != "a" || live[1].ID != "b" {
		t.Fatalf("unexpected live set %+v", live)
	}
	if n := s.Purge(at(5)); n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}
	if _, err := s.Get("c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected purged record gone, got %v", err)
	}
}
