package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/triage/internal/domain/triage"
)

type fakeStore struct {
	sets   map[string][]byte
	ttls   map[string]time.Duration
	lists  map[string][][]byte
	trims  int
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sets:  make(map[string][]byte),
		ttls:  make(map[string]time.Duration),
		lists: make(map[string][][]byte),
	}
}

func (f *fakeStore) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.sets[key] = value.([]byte)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStore) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append([][]byte{v.([]byte)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeStore) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.trims++
	if int64(len(f.lists[key])) > stop+1 {
		f.lists[key] = f.lists[key][start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStore) Close() error { return nil }

func TestSnapshotWriter_QueueChanged(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, time.Minute, zerolog.Nop())
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	queue := []triage.QueueView{
		{Position: 1, Patient: &triage.PatientRecord{ID: "B", TriageLevel: 1}},
		{Position: 2, Patient: &triage.PatientRecord{ID: "A", TriageLevel: 3}, EstimatedWaitMin: 5},
	}
	require.NoError(t, w.Publish(context.Background(), triage.Event{Type: triage.EventQueueChanged, Queue: queue, Timestamp: ts}))

	var snap queueSnapshot
	require.NoError(t, json.Unmarshal(fs.sets[QueueKey], &snap))
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, "B", snap.Queue[0].Patient.ID)
	assert.Equal(t, 5.0, snap.Queue[1].EstimatedWaitMin)
	assert.True(t, snap.UpdatedAt.Equal(ts))
	assert.Equal(t, time.Minute, fs.ttls[QueueKey])
}

func TestSnapshotWriter_EmptyQueueWritesEmptyList(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())

	require.NoError(t, w.Publish(context.Background(), triage.Event{Type: triage.EventQueueChanged}))
	assert.Contains(t, string(fs.sets[QueueKey]), `"queue":[]`)
}

func TestSnapshotWriter_AlertsCapped(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())

	for i := 0; i < recentAlerts+5; i++ {
		evt := triage.Event{Type: triage.EventAlertCreated, Alert: &triage.Alert{ID: "a"}}
		require.NoError(t, w.Publish(context.Background(), evt))
	}
	assert.Len(t, fs.lists[RecentAlertsKey], recentAlerts)
	assert.Equal(t, recentAlerts+5, fs.trims)
}

func TestSnapshotWriter_IgnoresOtherEvents(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())

	require.NoError(t, w.Publish(context.Background(), triage.Event{Type: triage.EventPatientObserved, PatientID: "p"}))
	assert.Empty(t, fs.sets)
	assert.Empty(t, fs.lists)
}

func TestSnapshotWriter_SetError(t *testing.T) {
	fs := newFakeStore()
	fs.setErr = errors.New("READONLY")
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())

	err := w.Publish(context.Background(), triage.Event{Type: triage.EventQueueChanged})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestSnapshotWriter_SkipsStaleQueue(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())
	ctx := context.Background()
	newer := []triage.QueueView{{Position: 1, Patient: &triage.PatientRecord{ID: "B", TriageLevel: 1}}}
	older := []triage.QueueView{
		{Position: 1, Patient: &triage.PatientRecord{ID: "A", TriageLevel: 2}},
		{Position: 2, Patient: &triage.PatientRecord{ID: "B", TriageLevel: 1}},
	}

	require.NoError(t, w.Publish(ctx, triage.Event{Type: triage.EventQueueChanged, Seq: 2, Queue: newer}))
	require.NoError(t, w.Publish(ctx, triage.Event{Type: triage.EventQueueChanged, Seq: 1, Queue: older}))

	var snap queueSnapshot
	require.NoError(t, json.Unmarshal(fs.sets[QueueKey], &snap))
	assert.Equal(t, uint64(2), snap.Seq)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "B", snap.Queue[0].Patient.ID)
}

func TestSnapshotWriter_FailedWriteDoesNotAdvance(t *testing.T) {
	fs := newFakeStore()
	w := NewSnapshotWriter(fs, 0, zerolog.Nop())
	ctx := context.Background()

	fs.setErr = errors.New("LOADING")
	require.Error(t, w.Publish(ctx, triage.Event{Type: triage.EventQueueChanged, Seq: 5}))

	fs.setErr = nil
	require.NoError(t, w.Publish(ctx, triage.Event{Type: triage.EventQueueChanged, Seq: 4}))
	var snap queueSnapshot
	require.NoError(t, json.Unmarshal(fs.sets[QueueKey], &snap))
	assert.Equal(t, uint64(4), snap.Seq)
}
