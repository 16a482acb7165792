// Package cache mirrors the live queue into Redis for dashboards that poll
// instead of holding a websocket open.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/triage"
)

const (
	QueueKey        = "triage:queue"
	RecentAlertsKey = "triage:alerts:recent"
	recentAlerts    = 100
)

// store is the subset of *redis.Client the snapshot writer uses.
type store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

type queueSnapshot struct {
	Seq       uint64             `json:"seq"`
	Queue     []triage.QueueView `json:"queue"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SnapshotWriter implements triage.EventSink. On queue.changed it replaces
// the cached snapshot unless a later one has already been written; alert
// events are pushed onto a capped recent list.
type SnapshotWriter struct {
	rdb    store
	ttl    time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string, ttl time.Duration, logger zerolog.Logger) (*SnapshotWriter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewSnapshotWriter(rdb, ttl, logger), nil
}

func NewSnapshotWriter(rdb store, ttl time.Duration, logger zerolog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis").Logger(),
	}
}

// Publish implements triage.EventSink.
func (w *SnapshotWriter) Publish(ctx context.Context, evt triage.Event) error {
	switch {
	case evt.Type == triage.EventQueueChanged:
		return w.writeQueue(ctx, evt)
	case evt.Alert != nil:
		return w.pushAlert(ctx, evt)
	}
	return nil
}

func (w *SnapshotWriter) writeQueue(ctx context.Context, evt triage.Event) error {
	queue := evt.Queue
	if queue == nil {
		queue = []triage.QueueView{}
	}
	data, err := json.Marshal(queueSnapshot{Seq: evt.Seq, Queue: queue, UpdatedAt: evt.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if evt.Seq != 0 && evt.Seq <= w.lastSeq {
		w.logger.Debug().Uint64("seq", evt.Seq).Uint64("cached_seq", w.lastSeq).Msg("skipping stale queue snapshot")
		return nil
	}
	if err := w.rdb.Set(ctx, QueueKey, data, w.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if evt.Seq > w.lastSeq {
		w.lastSeq = evt.Seq
	}
	return nil
}

func (w *SnapshotWriter) pushAlert(ctx context.Context, evt triage.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := w.rdb.LPush(ctx, RecentAlertsKey, data).Err(); err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	if err := w.rdb.LTrim(ctx, RecentAlertsKey, 0, recentAlerts-1).Err(); err != nil {
		w.logger.Warn().Err(err).Msg("failed to trim recent alerts")
	}
	return nil
}

func (w *SnapshotWriter) Close() error { return w.rdb.Close() }
