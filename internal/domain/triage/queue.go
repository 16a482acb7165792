package triage

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCompactionThreshold = 0.5
	// heaps smaller than this are never compacted; skipping a handful of
	// tombstones is cheaper than a rebuild.
	minCompactionSize = 16
)

// QueueEntry is the ordering key of one live patient.
type QueueEntry struct {
	PatientID   string    `json:"patient_id"`
	Level       Level     `json:"triage_level"`
	ArrivalTime time.Time `json:"arrival_time"`
	Seq         uint64    `json:"seq"`
}

type heapEntry struct {
	QueueEntry
	removed bool
	index   int
}

func entryLess(a, b QueueEntry) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	return a.Seq < b.Seq
}

// entryHeap implements heap.Interface ordered by (level, arrival, seq).
type entryHeap []*heapEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return entryLess(h[i].QueueEntry, h[j].QueueEntry) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*heapEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// PriorityQueue orders live patients by triage level then arrival time.
// Removal is lazy: removed entries stay in the heap as tombstones until they
// surface at the head or a compaction pass drops them.
type PriorityQueue struct {
	mu         sync.RWMutex
	h          entryHeap
	live       map[string]*heapEntry
	tombstones int
	seq        uint64
	threshold  float64
	compacted  int
}

// NewPriorityQueue creates an empty queue. threshold is the tombstone ratio
// above which the heap is rebuilt; values outside (0,1] fall back to 0.5.
func NewPriorityQueue(threshold float64) *PriorityQueue {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultCompactionThreshold
	}
	return &PriorityQueue{
		live:      make(map[string]*heapEntry),
		threshold: threshold,
	}
}

// Insert adds a live entry for id.
func (q *PriorityQueue) Insert(id string, level Level, arrival time.Time) error {
	if err := ValidateLevel(level); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.live[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	q.seq++
	e := &heapEntry{QueueEntry: QueueEntry{
		PatientID:   id,
		Level:       level,
		ArrivalTime: arrival,
		Seq:         q.seq,
	}}
	heap.Push(&q.h, e)
	q.live[id] = e
	return nil
}

// Remove tombstones the live entry for id. Unknown or already removed ids are
// ignored. It reports whether an entry was removed.
func (q *PriorityQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.live[id]
	if !ok {
		return false
	}
	q.tombstone(e)
	q.maybeCompact()
	return true
}

// UpdatePriority moves id to a new level, keeping its arrival time and
// insertion order so the patient's accrued wait is preserved.
func (q *PriorityQueue) UpdatePriority(id string, level Level) error {
	if err := ValidateLevel(level); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	old, ok := q.live[id]
	if !ok {
		return fmt.Errorf("%w: patient %s is not queued", ErrNotFound, id)
	}
	if old.Level == level {
		return nil
	}
	q.tombstone(old)

	e := &heapEntry{QueueEntry: old.QueueEntry}
	e.Level = level
	heap.Push(&q.h, e)
	q.live[id] = e
	q.maybeCompact()
	return nil
}

// PopHighestPriority removes and returns the most urgent live entry.
func (q *PriorityQueue) PopHighestPriority() (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.h.Len() > 0 {
		e := heap.Pop(&q.h).(*heapEntry)
		if e.removed {
			q.tombstones--
			continue
		}
		delete(q.live, e.PatientID)
		return e.QueueEntry, nil
	}
	return QueueEntry{}, ErrEmptyQueue
}

// Peek returns the most urgent live entry without removing it.
func (q *PriorityQueue) Peek() (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.h.Len() > 0 {
		head := q.h[0]
		if !head.removed {
			return head.QueueEntry, nil
		}
		heap.Pop(&q.h)
		q.tombstones--
	}
	return QueueEntry{}, ErrEmptyQueue
}

// Snapshot returns the live entries in queue order. The heap is not touched.
func (q *PriorityQueue) Snapshot() []QueueEntry {
	q.mu.RLock()
	out := make([]QueueEntry, 0, len(q.live))
	for _, e := range q.live {
		out = append(out, e.QueueEntry)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return entryLess(out[i], out[j]) })
	return out
}

// Get returns the live entry for id.
func (q *PriorityQueue) Get(id string) (QueueEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.live[id]
	if !ok {
		return QueueEntry{}, false
	}
	return e.QueueEntry, true
}

// Contains reports whether id has a live entry.
func (q *PriorityQueue) Contains(id string) bool {
	_, ok := q.Get(id)
	return ok
}

// Len returns the number of live entries.
func (q *PriorityQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.live)
}

// Tombstones returns the number of removed entries still held by the heap.
func (q *PriorityQueue) Tombstones() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tombstones
}

// Compactions returns how many times the heap has been rebuilt.
func (q *PriorityQueue) Compactions() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.compacted
}

// Compact rebuilds the heap without tombstones.
func (q *PriorityQueue) Compact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.compact()
}

// caller holds q.mu.
func (q *PriorityQueue) tombstone(e *heapEntry) {
	e.removed = true
	delete(q.live, e.PatientID)
	q.tombstones++
}

// caller holds q.mu.
func (q *PriorityQueue) maybeCompact() {
	n := q.h.Len()
	if n < minCompactionSize {
		return
	}
	if float64(q.tombstones)/float64(n) > q.threshold {
		q.compact()
	}
}

// caller holds q.mu.
func (q *PriorityQueue) compact() {
	if q.tombstones == 0 {
		return
	}
	rebuilt := make(entryHeap, 0, len(q.live))
	for _, e := range q.h {
		if e.removed {
			continue
		}
		e.index = len(rebuilt)
		rebuilt = append(rebuilt, e)
	}
	heap.Init(&rebuilt)
	q.h = rebuilt
	q.tombstones = 0
	q.compacted++
}
