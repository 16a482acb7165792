package triage

import (
	"fmt"
	"time"
)

// Level is an ESI-style triage level. 1 is the most urgent, 5 the least.
type Level int

const (
	LevelResuscitation Level = 1
	LevelEmergent      Level = 2
	LevelUrgent        Level = 3
	LevelLessUrgent    Level = 4
	LevelNonUrgent     Level = 5
)

var levelLabels = map[Level]string{
	LevelResuscitation: "RESUSCITATION",
	LevelEmergent:      "EMERGENT",
	LevelUrgent:        "URGENT",
	LevelLessUrgent:    "LESS URGENT",
	LevelNonUrgent:     "NON-URGENT",
}

// Valid reports whether l lies in 1..5.
func (l Level) Valid() bool {
	return l >= LevelResuscitation && l <= LevelNonUrgent
}

// Label returns the ESI label, or "UNKNOWN" for an out-of-range level.
func (l Level) Label() string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return "UNKNOWN"
}

func (l Level) String() string {
	return fmt.Sprintf("%d (%s)", int(l), l.Label())
}

// ValidateLevel returns ErrInvalidLevel when l is outside 1..5.
func ValidateLevel(l Level) error {
	if !l.Valid() {
		return fmt.Errorf("%w: %d outside 1..5", ErrInvalidLevel, int(l))
	}
	return nil
}

// Vitals is a free-form vitals snapshot as reported by staff or monitors.
type Vitals struct {
	HeartRate        string `json:"heart_rate,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	BloodPressure    string `json:"blood_pressure,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
}

// merge overlays the non-empty fields of o onto v.
func (v Vitals) merge(o Vitals) Vitals {
	if o.HeartRate != "" {
		v.HeartRate = o.HeartRate
	}
	if o.Temperature != "" {
		v.Temperature = o.Temperature
	}
	if o.RespiratoryRate != "" {
		v.RespiratoryRate = o.RespiratoryRate
	}
	if o.BloodPressure != "" {
		v.BloodPressure = o.BloodPressure
	}
	if o.OxygenSaturation != "" {
		v.OxygenSaturation = o.OxygenSaturation
	}
	return v
}

// PatientRecord is the canonical state of a patient who has been admitted to
// the queue. Only the RecordStore holds the authoritative copy.
type PatientRecord struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Age                 int             `json:"age,omitempty"`
	Gender              string          `json:"gender,omitempty"`
	Vitals              Vitals          `json:"vitals"`
	TriageLevel         Level           `json:"triage_level"`
	ArrivalTime         time.Time       `json:"arrival_time"`
	SymptomsNarrative   string          `json:"symptoms_narrative"`
	History             string          `json:"history,omitempty"`
	Overridden          bool            `json:"overridden"`
	OriginalTriageLevel *Level          `json:"original_triage_level,omitempty"`
	Removed             bool            `json:"removed"`
	RecentAssessments   []Assessment    `json:"recent_assessments,omitempty"`
	Decision            *DecisionRecord `json:"decision,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Version             int64           `json:"version"`
}

// clone returns a deep copy so callers never alias store-owned slices.
func (p *PatientRecord) clone() *PatientRecord {
	cp := *p
	if p.OriginalTriageLevel != nil {
		l := *p.OriginalTriageLevel
		cp.OriginalTriageLevel = &l
	}
	if p.RecentAssessments != nil {
		cp.RecentAssessments = make([]Assessment, len(p.RecentAssessments))
		for i, a := range p.RecentAssessments {
			cp.RecentAssessments[i] = a.clone()
		}
	}
	if p.Decision != nil {
		d := *p.Decision
		cp.Decision = &d
	}
	return &cp
}

// DecisionRecord captures how an intake's triage level was decided. It is
// written once, at admission.
type DecisionRecord struct {
	PatientID        string    `json:"patient_id"`
	RecommendedLevel Level     `json:"recommended_level"`
	FinalLevel       Level     `json:"final_level"`
	WasOverridden    bool      `json:"was_overridden"`
	OriginalScore    *Level    `json:"original_score,omitempty"`
	DecidedBy        string    `json:"decided_by,omitempty"`
	DecidedAt        time.Time `json:"decided_at"`
}

// AlertStatus is the lifecycle state of an Alert.
type AlertStatus string

const (
	AlertPending  AlertStatus = "pending"
	AlertAccepted AlertStatus = "accepted"
	AlertRejected AlertStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertAccepted || s == AlertRejected
}

// Alert suggests re-triaging a queued patient to a more urgent level.
type Alert struct {
	ID                   string      `json:"id"`
	PatientID            string      `json:"patient_id"`
	PatientName          string      `json:"patient_name"`
	OriginalTriageLevel  Level       `json:"original_triage_level"`
	SuggestedTriageLevel Level       `json:"suggested_triage_level"`
	Reason               string      `json:"reason"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
	Status               AlertStatus `json:"status"`
	ResolvedBy           string      `json:"resolved_by,omitempty"`
	ResolvedAt           *time.Time  `json:"resolved_at,omitempty"`
	Version              int64       `json:"version"`
}

func (a *Alert) clone() *Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Assessment is one result returned by the scoring engine.
type Assessment struct {
	Level                Level     `json:"triage_level"`
	Label                string    `json:"level_label"`
	Acuity               string    `json:"acuity"`
	Reasoning            string    `json:"reasoning,omitempty"`
	PrimaryConcern       string    `json:"primary_concern,omitempty"`
	SymptomProgression   string    `json:"symptom_progression,omitempty"`
	RedFlags             []string  `json:"red_flags,omitempty"`
	RecommendedResources []string  `json:"recommended_resources,omitempty"`
	NursingNotes         []string  `json:"nursing_notes,omitempty"`
	AssessedAt           time.Time `json:"assessed_at"`
}

func (a Assessment) clone() Assessment {
	a.RedFlags = append([]string(nil), a.RedFlags...)
	a.RecommendedResources = append([]string(nil), a.RecommendedResources...)
	a.NursingNotes = append([]string(nil), a.NursingNotes...)
	return a
}

// QueueView is one row of an ordered queue snapshot, joined with the record.
type QueueView struct {
	Position         int            `json:"position"`
	Patient          *PatientRecord `json:"patient"`
	EstimatedWaitMin float64        `json:"estimated_wait_minutes"`
}
