package triage

import (
	"fmt"
	"time"
)

// DecisionState is a state of the intake decision workflow.
type DecisionState string

const (
	StateProposed         DecisionState = "proposed"
	StateAccepted         DecisionState = "accepted"
	StateOverriding       DecisionState = "overriding"
	StateOverrideSelected DecisionState = "override_selected"
	StateFinalized        DecisionState = "finalized"
)

// Decision turns a scoring recommendation into a committed triage level.
//
//	proposed -> accepted ----------------------> finalized
//	proposed -> overriding -> override_selected -> finalized
//	overriding -> proposed (cancel)
type Decision struct {
	state       DecisionState
	recommended Level
	selected    Level
	record      *DecisionRecord
}

// NewDecision starts a decision in the proposed state.
func NewDecision(recommended Level) (*Decision, error) {
	if err := ValidateLevel(recommended); err != nil {
		return nil, err
	}
	return &Decision{state: StateProposed, recommended: recommended}, nil
}

func (d *Decision) State() DecisionState { return d.state }

func (d *Decision) Recommended() Level { return d.recommended }

// Selected returns the level that will be committed on Finalize, or 0 while
// no choice has been made.
func (d *Decision) Selected() Level {
	switch d.state {
	case StateAccepted:
		return d.recommended
	case StateOverrideSelected, StateFinalized:
		return d.selected
	}
	return 0
}

// Record returns the finalized record, or nil before Finalize.
func (d *Decision) Record() *DecisionRecord {
	if d.record == nil {
		return nil
	}
	cp := *d.record
	return &cp
}

func (d *Decision) transition(from, to DecisionState) error {
	if d.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, d.state, to)
	}
	d.state = to
	return nil
}

// Accept takes the recommendation verbatim.
func (d *Decision) Accept() error {
	if err := d.transition(StateProposed, StateAccepted); err != nil {
		return err
	}
	d.selected = d.recommended
	return nil
}

// BeginOverride starts choosing an alternative level.
func (d *Decision) BeginOverride() error {
	return d.transition(StateProposed, StateOverriding)
}

// CancelOverride returns to proposed without choosing a level.
func (d *Decision) CancelOverride() error {
	return d.transition(StateOverriding, StateProposed)
}

// SelectOverride picks a level different from the recommendation.
func (d *Decision) SelectOverride(level Level) error {
	if d.state != StateOverriding {
		return fmt.Errorf("%w: cannot select override from %s", ErrInvalidTransition, d.state)
	}
	if err := ValidateLevel(level); err != nil {
		return err
	}
	if level == d.recommended {
		return fmt.Errorf("%w: override level %d equals recommendation, accept instead", ErrInvalidLevel, int(level))
	}
	d.selected = level
	d.state = StateOverrideSelected
	return nil
}

// Finalize commits the decision. It is valid once, from accepted or
// override_selected.
func (d *Decision) Finalize(patientID, by string, now time.Time) (DecisionRecord, error) {
	if d.state != StateAccepted && d.state != StateOverrideSelected {
		return DecisionRecord{}, fmt.Errorf("%w: cannot finalize from %s", ErrInvalidTransition, d.state)
	}
	rec := DecisionRecord{
		PatientID:        patientID,
		RecommendedLevel: d.recommended,
		FinalLevel:       d.selected,
		WasOverridden:    d.state == StateOverrideSelected,
		DecidedBy:        by,
		DecidedAt:        now,
	}
	if rec.WasOverridden {
		orig := d.recommended
		rec.OriginalScore = &orig
	}
	d.state = StateFinalized
	d.record = &rec
	return rec, nil
}

// preview reports the record Finalize would produce without changing state.
func (d *Decision) preview(patientID, by string, now time.Time) (DecisionRecord, error) {
	cp := *d
	return cp.Finalize(patientID, by, now)
}
