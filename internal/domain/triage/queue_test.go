package triage

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func ids(entries []QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.PatientID
	}
	return out
}

func assertOrder(t *testing.T, got []QueueEntry, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected order %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, g)
		}
	}
}

func TestPriorityQueue_Scenario(t *testing.T) {
	q := NewPriorityQueue(0.5)
	if err := q.Insert("A", 3, at(0)); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if err := q.Insert("B", 1, at(1)); err != nil {
		t.Fatalf("insert B: %v", err)
	}
	if err := q.Insert("C", 3, at(2)); err != nil {
		t.Fatalf("insert C: %v", err)
	}
	assertOrder(t, q.Snapshot(), "B", "A", "C")

	q.Remove("A")
	assertOrder(t, q.Snapshot(), "B", "C")

	if err := q.UpdatePriority("C", 1); err != nil {
		t.Fatalf("update C: %v", err)
	}
	snap := q.Snapshot()
	assertOrder(t, snap, "B", "C")
	if snap[1].Level != 1 {
		t.Errorf("expected C at level 1, got %d", snap[1].Level)
	}
	if !snap[1].ArrivalTime.Equal(at(2)) {
		t.Errorf("expected C arrival preserved, got %v", snap[1].ArrivalTime)
	}
}

func TestPriorityQueue_Insert_Duplicate(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 2, at(0))
	err := q.Insert("A", 4, at(1))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].Level != 2 {
		t.Errorf("duplicate insert must leave queue unchanged, got %+v", snap)
	}
}

func TestPriorityQueue_Insert_AfterRemove(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 2, at(0))
	q.Remove("A")
	if err := q.Insert("A", 3, at(5)); err != nil {
		t.Fatalf("re-insert after remove: %v", err)
	}
	assertOrder(t, q.Snapshot(), "A")
}

func TestPriorityQueue_Insert_InvalidLevel(t *testing.T) {
	q := NewPriorityQueue(0.5)
	for _, l := range []Level{0, 6, -1} {
		err := q.Insert("X", l, at(0))
		if !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("level %d: expected ErrInvalidLevel, got %v", l, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("level %d: expected error to match ErrValidation", l)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestPriorityQueue_Remove_Idempotent(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 2, at(0))
	q.Insert("B", 2, at(1))

	if !q.Remove("A") {
		t.Error("expected first remove to report removal")
	}
	before := q.Snapshot()
	tombs := q.Tombstones()
	if q.Remove("A") {
		t.Error("expected second remove to be a no-op")
	}
	if q.Remove("unknown") {
		t.Error("expected remove of unknown id to be a no-op")
	}
	assertOrder(t, q.Snapshot(), ids(before)...)
	if q.Tombstones() != tombs {
		t.Errorf("expected tombstones unchanged at %d, got %d", tombs, q.Tombstones())
	}
}

func TestPriorityQueue_UpdatePriority_NotFound(t *testing.T) {
	q := NewPriorityQueue(0.5)
	if err := q.UpdatePriority("ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	q.Insert("A", 3, at(0))
	q.Remove("A")
	if err := q.UpdatePriority("A", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed id, got %v", err)
	}
}

func TestPriorityQueue_UpdatePriority_InvalidLeavesEntry(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 3, at(0))
	if err := q.UpdatePriority("A", 9); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	e, ok := q.Get("A")
	if !ok || e.Level != 3 {
		t.Errorf("expected A still live at level 3, got %+v ok=%v", e, ok)
	}
	if q.Tombstones() != 0 {
		t.Errorf("expected no tombstone after failed update, got %d", q.Tombstones())
	}
}

func TestPriorityQueue_UpdatePriority_SameLevelNoop(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 3, at(0))
	if err := q.UpdatePriority("A", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Tombstones() != 0 {
		t.Errorf("expected no tombstone, got %d", q.Tombstones())
	}
}

func TestPriorityQueue_UpdatePriority_Downgrade(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 1, at(0))
	q.Insert("B", 3, at(1))
	q.UpdatePriority("A", 4)
	assertOrder(t, q.Snapshot(), "B", "A")
}

func TestPriorityQueue_TiesByInsertionOrder(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("first", 2, at(0))
	q.Insert("second", 2, at(0))
	q.Insert("third", 2, at(0))
	assertOrder(t, q.Snapshot(), "first", "second", "third")

	q.UpdatePriority("first", 3)
	q.UpdatePriority("first", 2)
	assertOrder(t, q.Snapshot(), "first", "second", "third")
}

func TestPriorityQueue_PopDrainsInSnapshotOrder(t *testing.T) {
	q := NewPriorityQueue(0.5)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		q.Insert(fmt.Sprintf("p%03d", i), Level(r.Intn(5)+1), at(r.Intn(60)))
	}
	for i := 0; i < 200; i += 3 {
		q.Remove(fmt.Sprintf("p%03d", i))
	}
	for i := 1; i < 200; i += 7 {
		q.UpdatePriority(fmt.Sprintf("p%03d", i), Level(r.Intn(5)+1))
	}

	want := q.Snapshot()
	if !sort.SliceIsSorted(want, func(i, j int) bool { return entryLess(want[i], want[j]) }) {
		t.Fatal("snapshot is not sorted")
	}

	var got []QueueEntry
	for {
		e, err := q.PopHighestPriority()
		if errors.Is(err, ErrEmptyQueue) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, e)
	}
	assertOrder(t, got, ids(want)...)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	if len(q.Snapshot()) != 0 {
		t.Error("expected empty snapshot after drain")
	}
}

func TestPriorityQueue_PopEmpty(t *testing.T) {
	q := NewPriorityQueue(0.5)
	if _, err := q.PopHighestPriority(); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}
	q.Insert("A", 1, at(0))
	q.Remove("A")
	if _, err := q.PopHighestPriority(); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue with only tombstones, got %v", err)
	}
	if q.Tombstones() != 0 {
		t.Errorf("expected tombstone discarded at head, got %d", q.Tombstones())
	}
}

func TestPriorityQueue_Peek(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 2, at(0))
	q.Insert("B", 1, at(1))
	q.Remove("B")
	e, err := q.Peek()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.PatientID != "A" {
		t.Errorf("expected A at head, got %s", e.PatientID)
	}
	if q.Len() != 1 {
		t.Errorf("peek must not remove live entries, len=%d", q.Len())
	}
}

func TestPriorityQueue_Compaction(t *testing.T) {
	q := NewPriorityQueue(0.5)
	for i := 0; i < 20; i++ {
		q.Insert(fmt.Sprintf("p%02d", i), 3, at(i))
	}
	for i := 0; i < 10; i++ {
		q.Remove(fmt.Sprintf("p%02d", i))
	}
	if q.Compactions() != 0 {
		t.Fatalf("expected no compaction at 50%%, got %d", q.Compactions())
	}
	if q.Tombstones() != 10 {
		t.Fatalf("expected 10 tombstones, got %d", q.Tombstones())
	}

	q.Remove("p10")
	if q.Compactions() != 1 {
		t.Fatalf("expected compaction above 50%%, got %d", q.Compactions())
	}
	if q.Tombstones() != 0 {
		t.Errorf("expected tombstones cleared, got %d", q.Tombstones())
	}
	if q.Len() != 9 {
		t.Errorf("expected 9 live entries, got %d", q.Len())
	}
	e, err := q.PopHighestPriority()
	if err != nil || e.PatientID != "p11" {
		t.Errorf("expected p11 at head after compaction, got %+v err=%v", e, err)
	}
}

func TestPriorityQueue_SnapshotIsCopy(t *testing.T) {
	q := NewPriorityQueue(0.5)
	q.Insert("A", 3, at(0))
	snap := q.Snapshot()
	snap[0].Level = 1
	e, _ := q.Get("A")
	if e.Level != 3 {
		t.Errorf("mutating snapshot leaked into queue: level %d", e.Level)
	}
}

func TestNewPriorityQueue_ThresholdFallback(t *testing.T) {
	for _, th := range []float64{0, -1, 1.5} {
		q := NewPriorityQueue(th)
		if q.threshold != DefaultCompactionThreshold {
			t.Errorf("threshold %v: expected fallback %v, got %v", th, DefaultCompactionThreshold, q.threshold)
		}
	}
}
