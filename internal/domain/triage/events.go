package triage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a change that downstream consumers can react to.
type EventType string

const (
	EventPatientAdmitted      EventType = "patient.admitted"
	EventPatientRemoved       EventType = "patient.removed"
	EventPatientPopped        EventType = "patient.popped"
	EventPatientReprioritized EventType = "patient.reprioritized"
	EventPatientObserved      EventType = "patient.observed"
	EventAlertCreated         EventType = "alert.created"
	EventAlertUpdated         EventType = "alert.updated"
	EventAlertAccepted        EventType = "alert.accepted"
	EventAlertRejected        EventType = "alert.rejected"
	EventQueueChanged         EventType = "queue.changed"
)

// Event is published after the state change it describes has been applied.
// Seq numbers queue.changed events in the order the changes were applied.
type Event struct {
	Type      EventType      `json:"type"`
	PatientID string         `json:"patient_id,omitempty"`
	Patient   *PatientRecord `json:"patient,omitempty"`
	Alert     *Alert         `json:"alert,omitempty"`
	Queue     []QueueView    `json:"queue,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Seq       uint64         `json:"seq,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives domain events.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt Event) error

func (f EventSinkFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }

// MultiSink publishes to every sink in order. A failing sink is logged and
// does not stop delivery to the rest.
type MultiSink struct {
	sinks  []EventSink
	logger zerolog.Logger
}

func NewMultiSink(logger zerolog.Logger, sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Add registers another sink.
func (m *MultiSink) Add(s EventSink) {
	m.sinks = append(m.sinks, s)
}

func (m *MultiSink) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, evt); err != nil {
			m.logger.Warn().Err(err).Str("event", string(evt.Type)).Msg("event sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
