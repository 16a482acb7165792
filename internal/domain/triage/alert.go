package triage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertChange describes what Evaluate did.
type AlertChange int

const (
	AlertUnchanged AlertChange = iota
	AlertCreated
	AlertUpdated
)

func (c AlertChange) String() string {
	switch c {
	case AlertCreated:
		return "created"
	case AlertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// AlertManager tracks re-triage alerts. At most one alert per patient is
// pending; a pending alert is only ever made more urgent, never downgraded.
type AlertManager struct {
	mu      sync.RWMutex
	alerts  map[string]*Alert
	pending map[string]string // patient id -> alert id
	newID   func() string
}

func NewAlertManager() *AlertManager {
	return &AlertManager{
		alerts:  make(map[string]*Alert),
		pending: make(map[string]string),
		newID:   func() string { return uuid.New().String() },
	}
}

// Evaluate considers a fresh suggestion for a queued patient.
func (m *AlertManager) Evaluate(p *PatientRecord, suggested Level, reason string, now time.Time) (*Alert, AlertChange, error) {
	if err := ValidateLevel(suggested); err != nil {
		return nil, AlertUnchanged, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.pending[p.ID]; ok {
		a := m.alerts[id]
		switch {
		case suggested < a.SuggestedTriageLevel:
			a.SuggestedTriageLevel = suggested
			a.OriginalTriageLevel = p.TriageLevel
			a.Reason = reason
		case suggested == a.SuggestedTriageLevel && reason != a.Reason:
			a.Reason = reason
		default:
			return a.clone(), AlertUnchanged, nil
		}
		a.PatientName = p.Name
		a.UpdatedAt = now
		a.Version++
		return a.clone(), AlertUpdated, nil
	}

	if suggested >= p.TriageLevel {
		return nil, AlertUnchanged, nil
	}
	a := &Alert{
		ID:                   m.newID(),
		PatientID:            p.ID,
		PatientName:          p.Name,
		OriginalTriageLevel:  p.TriageLevel,
		SuggestedTriageLevel: suggested,
		Reason:               reason,
		CreatedAt:            now,
		UpdatedAt:            now,
		Status:               AlertPending,
		Version:              1,
	}
	m.alerts[a.ID] = a
	m.pending[p.ID] = a.ID
	return a.clone(), AlertCreated, nil
}

// Get returns a copy of the alert.
func (m *AlertManager) Get(id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return a.clone(), nil
}

// Pending returns the pending alert for a patient.
func (m *AlertManager) Pending(patientID string) (*Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pending[patientID]
	if !ok {
		return nil, false
	}
	return m.alerts[id].clone(), true
}

// Accept resolves the alert as accepted. Resolving an already terminal alert
// returns it unchanged with resolved=false.
func (m *AlertManager) Accept(id, by string, now time.Time) (a *Alert, resolved bool, err error) {
	return m.resolve(id, AlertAccepted, by, now)
}

// Reject resolves the alert as rejected, with the same idempotency as Accept.
func (m *AlertManager) Reject(id, by string, now time.Time) (a *Alert, resolved bool, err error) {
	return m.resolve(id, AlertRejected, by, now)
}

func (m *AlertManager) resolve(id string, status AlertStatus, by string, now time.Time) (*Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	if a.Status.Terminal() {
		return a.clone(), false, nil
	}
	a.Status = status
	a.ResolvedBy = by
	resolvedAt := now
	a.ResolvedAt = &resolvedAt
	a.UpdatedAt = now
	a.Version++
	delete(m.pending, a.PatientID)
	return a.clone(), true, nil
}

// DismissForPatient rejects the patient's pending alert, if any.
func (m *AlertManager) DismissForPatient(patientID, by string, now time.Time) (*Alert, bool) {
	m.mu.RLock()
	id, ok := m.pending[patientID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	a, resolved, err := m.resolve(id, AlertRejected, by, now)
	if err != nil || !resolved {
		return nil, false
	}
	return a, true
}

// AlertFilter narrows List results. Zero values match everything.
type AlertFilter struct {
	Status    AlertStatus
	PatientID string
}

// List returns alerts newest first.
func (m *AlertManager) List(f AlertFilter) []*Alert {
	m.mu.RLock()
	out := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		out = append(out, a.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Put loads a persisted alert, re-establishing the pending index.
func (m *AlertManager) Put(a *Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a.clone()
	m.alerts[cp.ID] = cp
	if cp.Status == AlertPending {
		m.pending[cp.PatientID] = cp.ID
	}
}

// PendingCount returns the number of unresolved alerts.
func (m *AlertManager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}
