package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SystemActor resolves alerts on behalf of the service itself.
const SystemActor = "system"

// ServiceConfig wires a Service. Only Scorer is required.
type ServiceConfig struct {
	Scorer              ScoringEngine
	Repo                Repository
	Sink                EventSink
	ServiceTimes        ServiceTimes
	CompactionThreshold float64
	Logger              zerolog.Logger
	Clock               func() time.Time
}

// Service owns the triage board: pending intakes, the record store, the
// priority queue and the alert manager. All structural changes happen under
// one lock; scoring calls, persistence and event delivery happen outside it.
type Service struct {
	mu        sync.RWMutex
	store     *RecordStore
	queue     *PriorityQueue
	alerts    *AlertManager
	intakes   map[string]*intake
	dirty     map[string]struct{}
	estimator *WaitTimeEstimator
	queueSeq  uint64

	scorer ScoringEngine
	repo   Repository
	sink   EventSink
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Repo == nil {
		cfg.Repo = NopRepository{}
	}
	if cfg.Sink == nil {
		cfg.Sink = EventSinkFunc(func(context.Context, Event) error { return nil })
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		store:     NewRecordStore(),
		queue:     NewPriorityQueue(cfg.CompactionThreshold),
		alerts:    NewAlertManager(),
		intakes:   make(map[string]*intake),
		dirty:     make(map[string]struct{}),
		estimator: NewWaitTimeEstimator(cfg.ServiceTimes),
		scorer:    cfg.Scorer,
		repo:      cfg.Repo,
		sink:      cfg.Sink,
		logger:    cfg.Logger.With().Str("component", "triage").Logger(),
		now:       cfg.Clock,
	}
}

// -- Intake --

// IntakeRequest describes a patient presenting for triage.
type IntakeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Vitals   Vitals `json:"vitals"`
	Symptoms string `json:"symptoms"`
	History  string `json:"history"`
}

type intake struct {
	patient    PatientRecord
	assessment Assessment
	decision   *Decision
	createdBy  string
}

// IntakeView is the externally visible state of a pending intake.
type IntakeView struct {
	ID               string        `json:"id"`
	Patient          PatientRecord `json:"patient"`
	Assessment       Assessment    `json:"assessment"`
	State            DecisionState `json:"state"`
	RecommendedLevel Level         `json:"recommended_level"`
	SelectedLevel    Level         `json:"selected_level,omitempty"`
	CreatedBy        string        `json:"created_by,omitempty"`
}

func (in *intake) view() *IntakeView {
	p := in.patient
	return &IntakeView{
		ID:               p.ID,
		Patient:          *p.clone(),
		Assessment:       in.assessment.clone(),
		State:            in.decision.State(),
		RecommendedLevel: in.decision.Recommended(),
		SelectedLevel:    in.decision.Selected(),
		CreatedBy:        in.createdBy,
	}
}

// caller holds s.mu.
func (s *Service) checkAvailable(id string) error {
	if _, ok := s.intakes[id]; ok {
		return fmt.Errorf("%w: intake %s already open", ErrDuplicateID, id)
	}
	if s.queue.Contains(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	return nil
}

// StartIntake scores a new patient and opens a proposed decision. The
// arrival time is taken when the intake starts so scoring and decision
// latency never count against the patient's place in line.
func (s *Service) StartIntake(ctx context.Context, req IntakeRequest, by string) (*IntakeView, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.Age < 0 {
		return nil, fmt.Errorf("%w: age must not be negative", ErrValidation)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	arrival := s.now()

	s.mu.RLock()
	err := s.checkAvailable(req.ID)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	patient := PatientRecord{
		ID:                req.ID,
		Name:              req.Name,
		Age:               req.Age,
		Gender:            req.Gender,
		Vitals:            req.Vitals,
		ArrivalTime:       arrival,
		SymptomsNarrative: strings.TrimSpace(req.Symptoms),
		History:           req.History,
	}
	assessment, err := score(ctx, s.scorer, requestFor(&patient))
	if err != nil {
		return nil, err
	}
	assessment.AssessedAt = s.now()
	decision, err := NewDecision(assessment.Level)
	if err != nil {
		return nil, err
	}
	patient.TriageLevel = assessment.Level
	patient.RecentAssessments = []Assessment{assessment}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(req.ID); err != nil {
		return nil, err
	}
	in := &intake{patient: patient, assessment: assessment, decision: decision, createdBy: by}
	s.intakes[req.ID] = in
	s.logger.Info().Str("patient_id", req.ID).Int("recommended", int(assessment.Level)).Msg("intake opened")
	return in.view(), nil
}

// GetIntake returns a pending intake.
func (s *Service) GetIntake(id string) (*IntakeView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: intake %s", ErrNotFound, id)
	}
	return in.view(), nil
}

// ListIntakes returns pending intakes ordered by arrival.
func (s *Service) ListIntakes() []*IntakeView {
	s.mu.RLock()
	out := make([]*IntakeView, 0, len(s.intakes))
	for _, in := range s.intakes {
		out = append(out, in.view())
	}
	s.mu.RUnlock()
	sortIntakes(out)
	return out
}

func (s *Service) withIntake(id string, fn func(*Decision) error) (*IntakeView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: intake %s", ErrNotFound, id)
	}
	if err := fn(in.decision); err != nil {
		return nil, err
	}
	return in.view(), nil
}

// AcceptRecommendation accepts the scoring engine's level verbatim.
func (s *Service) AcceptRecommendation(id string) (*IntakeView, error) {
	return s.withIntake(id, (*Decision).Accept)
}

// BeginOverride starts choosing a different level.
func (s *Service) BeginOverride(id string) (*IntakeView, error) {
	return s.withIntake(id, (*Decision).BeginOverride)
}

// CancelOverride backs out of choosing a different level.
func (s *Service) CancelOverride(id string) (*IntakeView, error) {
	return s.withIntake(id, (*Decision).CancelOverride)
}

// SelectOverride picks the nurse's level.
func (s *Service) SelectOverride(id string, level Level) (*IntakeView, error) {
	return s.withIntake(id, func(d *Decision) error { return d.SelectOverride(level) })
}

// DiscardIntake drops a pending intake without admitting it.
func (s *Service) DiscardIntake(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intakes[id]; !ok {
		return fmt.Errorf("%w: intake %s", ErrNotFound, id)
	}
	delete(s.intakes, id)
	return nil
}

// Admit finalizes the intake's decision and places the patient in the queue.
// Nothing changes unless every step succeeds.
func (s *Service) Admit(ctx context.Context, id, by string) (*PatientRecord, error) {
	now := s.now()
	// A re-admitted id must persist above its stored tombstone, which is not
	// held in memory after a restart or a purge.
	stored, err := s.repo.PatientVersion(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", id).Msg("failed to load stored patient version")
	}

	s.mu.Lock()
	in, ok := s.intakes[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: intake %s", ErrNotFound, id)
	}
	decision, err := in.decision.preview(id, by, now)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.queue.Contains(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	rec := in.patient.clone()
	rec.TriageLevel = decision.FinalLevel
	rec.Decision = &decision
	rec.UpdatedAt = now
	if decision.WasOverridden {
		rec.Overridden = true
		orig := decision.RecommendedLevel
		rec.OriginalTriageLevel = &orig
	}
	created, err := s.store.Create(rec, stored)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.queue.Insert(id, created.TriageLevel, created.ArrivalTime); err != nil {
		// Contains was checked above under the same lock.
		s.mu.Unlock()
		return nil, err
	}
	if _, err := in.decision.Finalize(id, by, now); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	delete(s.intakes, id)
	changed := s.queueChangedLocked()
	s.mu.Unlock()

	s.logger.Info().
		Str("patient_id", id).
		Int("level", int(created.TriageLevel)).
		Bool("overridden", decision.WasOverridden).
		Msg("patient admitted")

	s.persistPatient(ctx, created)
	if err := s.repo.InsertDecision(ctx, decision); err != nil {
		s.logger.Error().Err(err).Str("patient_id", id).Msg("failed to persist decision")
	}
	s.publish(ctx, Event{Type: EventPatientAdmitted, PatientID: id, Patient: created, Actor: by})
	s.publish(ctx, changed)
	return created, nil
}

// -- Queue --

// Remove takes a patient out of the queue. Removing an unknown or already
// removed patient is a no-op; the second return reports whether anything
// changed.
func (s *Service) Remove(ctx context.Context, id, by string) (*PatientRecord, bool) {
	now := s.now()

	s.mu.Lock()
	if !s.queue.Remove(id) {
		s.mu.Unlock()
		return nil, false
	}
	rec, _ := s.store.MarkRemoved(id, now)
	dismissed, _ := s.alerts.DismissForPatient(id, SystemActor, now)
	delete(s.dirty, id)
	changed := s.queueChangedLocked()
	s.mu.Unlock()

	s.logger.Info().Str("patient_id", id).Str("by", by).Msg("patient removed")
	s.afterDeparture(ctx, EventPatientRemoved, rec, dismissed, by, changed)
	return rec, true
}

// Pop removes and returns the most urgent patient.
func (s *Service) Pop(ctx context.Context, by string) (*PatientRecord, error) {
	now := s.now()

	s.mu.Lock()
	entry, err := s.queue.PopHighestPriority()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec, _ := s.store.MarkRemoved(entry.PatientID, now)
	dismissed, _ := s.alerts.DismissForPatient(entry.PatientID, SystemActor, now)
	delete(s.dirty, entry.PatientID)
	changed := s.queueChangedLocked()
	s.mu.Unlock()

	s.logger.Info().Str("patient_id", entry.PatientID).Str("by", by).Msg("patient called")
	s.afterDeparture(ctx, EventPatientPopped, rec, dismissed, by, changed)
	return rec, nil
}

func (s *Service) afterDeparture(ctx context.Context, typ EventType, rec *PatientRecord, dismissed *Alert, by string, changed Event) {
	if rec != nil {
		s.persistPatient(ctx, rec)
		s.publish(ctx, Event{Type: typ, PatientID: rec.ID, Patient: rec, Actor: by})
	}
	if dismissed != nil {
		s.persistAlert(ctx, dismissed)
		s.publish(ctx, Event{Type: EventAlertRejected, PatientID: dismissed.PatientID, Alert: dismissed, Actor: SystemActor})
	}
	s.publish(ctx, changed)
}

// UpdatePriority changes a queued patient's level directly. The change is
// recorded as a human override. A pending alert suggesting exactly the new
// level counts as accepted by the same actor; any other pending alert is
// left for a clinician to resolve.
func (s *Service) UpdatePriority(ctx context.Context, id string, level Level, by string) (*PatientRecord, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	current, err := s.store.Get(id)
	if err != nil || current.Removed || !s.queue.Contains(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: patient %s is not queued", ErrNotFound, id)
	}
	if current.TriageLevel == level {
		s.mu.Unlock()
		return current, nil
	}
	if err := s.queue.UpdatePriority(id, level); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec, err := s.store.Update(id, now, func(r *PatientRecord) error {
		if r.OriginalTriageLevel == nil {
			orig := r.TriageLevel
			r.OriginalTriageLevel = &orig
		}
		r.TriageLevel = level
		r.Overridden = true
		return nil
	})
	if err != nil {
		// level was validated and the record is live; restore the queue key anyway.
		s.queue.UpdatePriority(id, current.TriageLevel)
		s.mu.Unlock()
		return nil, err
	}
	var applied *Alert
	if pending, ok := s.alerts.Pending(id); ok && pending.SuggestedTriageLevel == level {
		applied, _, _ = s.alerts.Accept(pending.ID, by, now)
	}
	changed := s.queueChangedLocked()
	s.mu.Unlock()

	s.logger.Info().Str("patient_id", id).Int("from", int(current.TriageLevel)).Int("to", int(level)).Str("by", by).Msg("priority updated")
	s.persistPatient(ctx, rec)
	s.publish(ctx, Event{Type: EventPatientReprioritized, PatientID: id, Patient: rec, Actor: by})
	if applied != nil {
		s.persistAlert(ctx, applied)
		s.publish(ctx, Event{Type: EventAlertAccepted, PatientID: id, Alert: applied, Actor: by})
	}
	s.publish(ctx, changed)
	return rec, nil
}

// Snapshot returns the queue in order, joined with patient records and each
// patient's expected wait. It reflects a single instant.
func (s *Service) Snapshot() []QueueView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// caller holds s.mu.
func (s *Service) snapshotLocked() []QueueView {
	entries := s.queue.Snapshot()
	views := make([]QueueView, 0, len(entries))
	var ahead time.Duration
	for i, e := range entries {
		rec, err := s.store.Get(e.PatientID)
		if err != nil {
			continue
		}
		views = append(views, QueueView{
			Position:         i + 1,
			Patient:          rec,
			EstimatedWaitMin: ahead.Minutes(),
		})
		ahead += s.estimator.table[e.Level]
	}
	return views
}

// WaitEstimate is a patient's place in line.
type WaitEstimate struct {
	PatientID        string  `json:"patient_id"`
	Position         int     `json:"position"`
	QueueLength      int     `json:"queue_length"`
	EstimatedWaitMin float64 `json:"estimated_wait_minutes"`
	TotalQueueMin    float64 `json:"total_queue_minutes"`
}

// EstimateWait returns the position and expected wait for a queued patient.
func (s *Service) EstimateWait(id string) (*WaitEstimate, error) {
	s.mu.RLock()
	entries := s.queue.Snapshot()
	s.mu.RUnlock()

	pos, ok := s.estimator.Position(entries, id)
	if !ok {
		return nil, fmt.Errorf("%w: patient %s is not queued", ErrNotFound, id)
	}
	ahead, _ := s.estimator.Ahead(entries, id)
	return &WaitEstimate{
		PatientID:        id,
		Position:         pos,
		QueueLength:      len(entries),
		EstimatedWaitMin: ahead.Minutes(),
		TotalQueueMin:    s.estimator.Total(entries).Minutes(),
	}, nil
}

// QueueSummary is the aggregate view used by dashboards and metrics.
type QueueSummary struct {
	Length         int           `json:"length"`
	Tombstones     int           `json:"tombstones"`
	PendingAlerts  int           `json:"pending_alerts"`
	PendingIntakes int           `json:"pending_intakes"`
	ByLevel        map[Level]int `json:"by_level"`
	TotalWaitMin   float64       `json:"total_wait_minutes"`
}

func (s *Service) Summary() QueueSummary {
	s.mu.RLock()
	entries := s.queue.Snapshot()
	sum := QueueSummary{
		Length:         len(entries),
		Tombstones:     s.queue.Tombstones(),
		PendingAlerts:  s.alerts.PendingCount(),
		PendingIntakes: len(s.intakes),
	}
	s.mu.RUnlock()
	sum.ByLevel = s.estimator.ByLevel(entries)
	sum.TotalWaitMin = s.estimator.Total(entries).Minutes()
	return sum
}

// GetPatient returns a patient record, including departed ones.
func (s *Service) GetPatient(id string) (*PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(id)
}

// -- Observations and reassessment --

// Observation is a new report about a queued patient.
type Observation struct {
	Vitals   Vitals `json:"vitals"`
	Symptoms string `json:"symptoms"`
}

// RecordObservation merges new vitals and symptoms into the record and marks
// the patient for reassessment on the next monitor pass.
func (s *Service) RecordObservation(ctx context.Context, id string, obs Observation) (*PatientRecord, error) {
	symptoms := strings.TrimSpace(obs.Symptoms)
	if symptoms == "" && obs.Vitals == (Vitals{}) {
		return nil, fmt.Errorf("%w: observation has no vitals or symptoms", ErrValidation)
	}
	now := s.now()

	s.mu.Lock()
	rec, err := s.store.Update(id, now, func(r *PatientRecord) error {
		r.Vitals = r.Vitals.merge(obs.Vitals)
		if symptoms != "" {
			if r.SymptomsNarrative == "" {
				r.SymptomsNarrative = symptoms
			} else {
				r.SymptomsNarrative += "\n" + symptoms
			}
		}
		return nil
	})
	if err == nil {
		s.dirty[id] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.persistPatient(ctx, rec)
	s.publish(ctx, Event{Type: EventPatientObserved, PatientID: id, Patient: rec})
	return rec, nil
}

// TakeDirty returns and clears the set of patients awaiting reassessment.
func (s *Service) TakeDirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		out = append(out, id)
	}
	s.dirty = make(map[string]struct{})
	return out
}

// MarkDirty queues a patient for reassessment if still in line.
func (s *Service) MarkDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Contains(id) {
		s.dirty[id] = struct{}{}
	}
}

// Reassess asks the scoring engine for a fresh level and raises or updates
// an alert when the patient looks more urgent than their current level. The
// returned alert is nil when nothing is pending for the patient.
func (s *Service) Reassess(ctx context.Context, id string) (*Alert, AlertChange, error) {
	s.mu.RLock()
	rec, err := s.store.Get(id)
	queued := s.queue.Contains(id)
	s.mu.RUnlock()
	if err != nil || rec.Removed || !queued {
		return nil, AlertUnchanged, fmt.Errorf("%w: patient %s is not queued", ErrNotFound, id)
	}

	assessment, err := score(ctx, s.scorer, requestFor(rec))
	if err != nil {
		return nil, AlertUnchanged, err
	}
	now := s.now()
	assessment.AssessedAt = now

	s.mu.Lock()
	if !s.queue.Contains(id) {
		s.mu.Unlock()
		return nil, AlertUnchanged, fmt.Errorf("%w: patient %s left the queue", ErrNotFound, id)
	}
	updated, err := s.store.Update(id, now, func(r *PatientRecord) error {
		r.RecentAssessments = appendRecall(r.RecentAssessments, assessment)
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return nil, AlertUnchanged, err
	}
	alert, change, err := s.alerts.Evaluate(updated, assessment.Level, alertReason(assessment), now)
	s.mu.Unlock()
	if err != nil {
		return nil, AlertUnchanged, err
	}

	s.persistPatient(ctx, updated)
	switch change {
	case AlertCreated:
		s.logger.Info().Str("patient_id", id).Str("alert_id", alert.ID).
			Int("current", int(updated.TriageLevel)).Int("suggested", int(alert.SuggestedTriageLevel)).
			Msg("re-triage alert raised")
		s.persistAlert(ctx, alert)
		s.publish(ctx, Event{Type: EventAlertCreated, PatientID: id, Alert: alert, Actor: SystemActor})
	case AlertUpdated:
		s.persistAlert(ctx, alert)
		s.publish(ctx, Event{Type: EventAlertUpdated, PatientID: id, Alert: alert, Actor: SystemActor})
	}
	return alert, change, nil
}

// -- Alerts --

// AcceptAlert applies the alert's suggested level to the queue and the
// record together. Accepting a resolved alert returns it unchanged.
func (s *Service) AcceptAlert(ctx context.Context, alertID, by string) (*Alert, error) {
	now := s.now()

	s.mu.Lock()
	a, err := s.alerts.Get(alertID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if a.Status.Terminal() {
		s.mu.Unlock()
		return a, nil
	}
	current, err := s.store.Get(a.PatientID)
	if err != nil || current.Removed || !s.queue.Contains(a.PatientID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: patient %s is not queued", ErrNotFound, a.PatientID)
	}
	if err := ValidateLevel(a.SuggestedTriageLevel); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.queue.UpdatePriority(a.PatientID, a.SuggestedTriageLevel); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec, err := s.store.Update(a.PatientID, now, func(r *PatientRecord) error {
		r.TriageLevel = a.SuggestedTriageLevel
		return nil
	})
	if err != nil {
		s.queue.UpdatePriority(a.PatientID, current.TriageLevel)
		s.mu.Unlock()
		return nil, err
	}
	accepted, _, err := s.alerts.Accept(alertID, by, now)
	changed := s.queueChangedLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("alert_id", alertID).Str("patient_id", a.PatientID).
		Int("level", int(a.SuggestedTriageLevel)).Str("by", by).Msg("alert accepted")
	s.persistPatient(ctx, rec)
	s.persistAlert(ctx, accepted)
	s.publish(ctx, Event{Type: EventAlertAccepted, PatientID: a.PatientID, Alert: accepted, Actor: by})
	s.publish(ctx, Event{Type: EventPatientReprioritized, PatientID: a.PatientID, Patient: rec, Actor: by})
	s.publish(ctx, changed)
	return accepted, nil
}

// RejectAlert closes the alert without touching the queue.
func (s *Service) RejectAlert(ctx context.Context, alertID, by string) (*Alert, error) {
	s.mu.Lock()
	a, resolved, err := s.alerts.Reject(alertID, by, s.now())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if resolved {
		s.logger.Info().Str("alert_id", alertID).Str("by", by).Msg("alert rejected")
		s.persistAlert(ctx, a)
		s.publish(ctx, Event{Type: EventAlertRejected, PatientID: a.PatientID, Alert: a, Actor: by})
	}
	return a, nil
}

func (s *Service) GetAlert(id string) (*Alert, error) {
	return s.alerts.Get(id)
}

func (s *Service) ListAlerts(f AlertFilter) []*Alert {
	return s.alerts.List(f)
}

// Decisions returns the stored decision history for a patient. In memory-only
// mode it holds the decision of the current admission at most.
func (s *Service) Decisions(ctx context.Context, patientID string) ([]DecisionRecord, error) {
	items, err := s.repo.ListDecisions(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	if len(items) > 0 {
		return items, nil
	}
	rec, err := s.GetPatient(patientID)
	if err != nil {
		return nil, err
	}
	if rec.Decision == nil {
		return []DecisionRecord{}, nil
	}
	return []DecisionRecord{*rec.Decision}, nil
}

// -- Persistence --

// Restore reloads live patients and pending alerts from the repository.
// Patients keep their original arrival time. It must run before the service
// takes traffic.
func (s *Service) Restore(ctx context.Context) (int, error) {
	patients, err := s.repo.ListLivePatients(ctx)
	if err != nil {
		return 0, fmt.Errorf("load patients: %w", err)
	}
	alerts, err := s.repo.ListPendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load alerts: %w", err)
	}
	sortByArrival(patients)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range patients {
		if p.Removed || !p.TriageLevel.Valid() {
			s.logger.Warn().Str("patient_id", p.ID).Msg("skipping unrestorable patient")
			continue
		}
		if err := s.queue.Insert(p.ID, p.TriageLevel, p.ArrivalTime); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", p.ID).Msg("skipping patient")
			continue
		}
		s.store.Put(p)
		n++
	}
	for _, a := range alerts {
		if a.Status != AlertPending || !s.queue.Contains(a.PatientID) {
			continue
		}
		s.alerts.Put(a)
	}
	return n, nil
}

func (s *Service) persistPatient(ctx context.Context, rec *PatientRecord) {
	if err := s.repo.UpsertPatient(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("patient_id", rec.ID).Msg("failed to persist patient")
	}
}

func (s *Service) persistAlert(ctx context.Context, a *Alert) {
	if err := s.repo.UpsertAlert(ctx, a); err != nil {
		s.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
	}
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now()
	}
	if err := s.sink.Publish(ctx, evt); err != nil {
		s.logger.Debug().Err(err).Str("event", string(evt.Type)).Msg("event delivery incomplete")
	}
}

// queueChangedLocked numbers a queue change and captures the queue as that
// change left it. Events are delivered after the lock is released and may
// arrive out of order; consumers compare Seq. Caller holds s.mu for writing.
func (s *Service) queueChangedLocked() Event {
	s.queueSeq++
	return Event{Type: EventQueueChanged, Queue: s.snapshotLocked(), Seq: s.queueSeq}
}

func sortIntakes(v []*IntakeView) {
	sort.Slice(v, func(i, j int) bool {
		if !v[i].Patient.ArrivalTime.Equal(v[j].Patient.ArrivalTime) {
			return v[i].Patient.ArrivalTime.Before(v[j].Patient.ArrivalTime)
		}
		return v[i].ID < v[j].ID
	})
}

func sortByArrival(p []*PatientRecord) {
	sort.SliceStable(p, func(i, j int) bool { return p[i].ArrivalTime.Before(p[j].ArrivalTime) })
}

// PurgeDeparted drops records of patients who left the queue before cutoff.
func (s *Service) PurgeDeparted(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Purge(cutoff)
}
