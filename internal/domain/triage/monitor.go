package triage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AlertMonitor periodically reassesses patients with new observations.
type AlertMonitor struct {
	svc    *Service
	logger zerolog.Logger

	// Interval between passes.
	Interval time.Duration
	// Workers bounds concurrent scoring calls within one pass.
	Workers int
	// Retention is how long departed records are kept before purging.
	Retention time.Duration
	// OnPass, if set, is called after every pass.
	OnPass func(PassResult)

	passes atomic.Int64
}

// PassResult summarizes one monitor pass.
type PassResult struct {
	Assessed int
	Raised   int
	Updated  int
	Failed   int
	Duration time.Duration
}

func NewAlertMonitor(svc *Service, logger zerolog.Logger) *AlertMonitor {
	return &AlertMonitor{
		svc:       svc,
		logger:    logger.With().Str("component", "alert_monitor").Logger(),
		Interval:  30 * time.Second,
		Workers:   4,
		Retention: 24 * time.Hour,
	}
}

// Start runs passes on Interval until ctx is cancelled.
func (m *AlertMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	m.logger.Info().Dur("interval", m.Interval).Int("workers", m.Workers).Msg("alert monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("alert monitor stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-cleanup.C:
			if n := m.svc.PurgeDeparted(m.svc.now().Add(-m.Retention)); n > 0 {
				m.logger.Debug().Int("purged", n).Msg("purged departed records")
			}
		}
	}
}

// RunOnce reassesses every patient marked since the previous pass. A failure
// for one patient is logged and the patient is retried on the next pass; it
// never stops the others.
func (m *AlertMonitor) RunOnce(ctx context.Context) PassResult {
	start := time.Now()
	ids := m.svc.TakeDirty()
	var raised, updated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if m.Workers > 0 {
		g.SetLimit(m.Workers)
	}
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, change, err := m.svc.Reassess(gctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
				// left the queue since the observation
			case err != nil:
				failed.Add(1)
				m.svc.MarkDirty(id)
				m.logger.Warn().Err(err).Str("patient_id", id).Msg("reassessment failed")
			case change == AlertCreated:
				raised.Add(1)
			case change == AlertUpdated:
				updated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := PassResult{
		Assessed: len(ids),
		Raised:   int(raised.Load()),
		Updated:  int(updated.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	m.passes.Add(1)
	if len(ids) > 0 {
		m.logger.Info().
			Int("assessed", res.Assessed).
			Int("raised", res.Raised).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Dur("duration", res.Duration).
			Msg("monitor pass complete")
	}
	if m.OnPass != nil {
		m.OnPass(res)
	}
	return res
}

// Passes returns the number of completed passes.
func (m *AlertMonitor) Passes() int64 {
	return m.passes.Load()
}
