package triage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServiceTimes maps a triage level to the expected time to see one patient.
type ServiceTimes map[Level]time.Duration

// DefaultServiceTimes is used when no table is configured.
func DefaultServiceTimes() ServiceTimes {
	return ServiceTimes{
		1: 5 * time.Minute,
		2: 15 * time.Minute,
		3: 30 * time.Minute,
		4: 45 * time.Minute,
		5: 60 * time.Minute,
	}
}

// ParseServiceTimes parses "1=5m,2=15m,..." into a table. Levels missing
// from s keep their default.
func ParseServiceTimes(s string) (ServiceTimes, error) {
	table := DefaultServiceTimes()
	s = strings.TrimSpace(s)
	if s == "" {
		return table, nil
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("service time %q: expected level=duration", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("service time %q: %w", part, err)
		}
		if err := ValidateLevel(Level(n)); err != nil {
			return nil, fmt.Errorf("service time %q: %w", part, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("service time %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("service time %q: negative duration", part)
		}
		table[Level(n)] = d
	}
	return table, nil
}

func (t ServiceTimes) String() string {
	levels := make([]int, 0, len(t))
	for l := range t {
		levels = append(levels, int(l))
	}
	sort.Ints(levels)
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%d=%s", l, t[Level(l)])
	}
	return strings.Join(parts, ",")
}

// WaitTimeEstimator derives wait estimates from a queue snapshot.
type WaitTimeEstimator struct {
	table ServiceTimes
}

func NewWaitTimeEstimator(table ServiceTimes) *WaitTimeEstimator {
	if table == nil {
		table = DefaultServiceTimes()
	}
	return &WaitTimeEstimator{table: table}
}

// Total sums the service time of every entry in the snapshot.
func (w *WaitTimeEstimator) Total(snapshot []QueueEntry) time.Duration {
	var total time.Duration
	for _, e := range snapshot {
		total += w.table[e.Level]
	}
	return total
}

// Position returns the 1-based position of id in the snapshot.
func (w *WaitTimeEstimator) Position(snapshot []QueueEntry, id string) (int, bool) {
	for i, e := range snapshot {
		if e.PatientID == id {
			return i + 1, true
		}
	}
	return 0, false
}

// Ahead sums the service times of entries queued before id, which is the
// expected wait for id.
func (w *WaitTimeEstimator) Ahead(snapshot []QueueEntry, id string) (time.Duration, bool) {
	var total time.Duration
	for _, e := range snapshot {
		if e.PatientID == id {
			return total, true
		}
		total += w.table[e.Level]
	}
	return 0, false
}

// ByLevel counts entries per level.
func (w *WaitTimeEstimator) ByLevel(snapshot []QueueEntry) map[Level]int {
	counts := make(map[Level]int, 5)
	for _, e := range snapshot {
		counts[e.Level]++
	}
	return counts
}
