package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// maxRecall is how many past assessments are kept on a record and sent back
// to the scoring engine.
const maxRecall = 3

// ScoreRequest is what the scoring engine receives for one patient.
type ScoreRequest struct {
	PatientID     string
	Vitals        Vitals
	Symptoms      string
	History       string
	RecallHistory []Assessment
}

// ScoringEngine assesses acuity. Implementations must return an error
// matching ErrUpstreamScoring when the engine is unreachable or its answer
// is unusable.
type ScoringEngine interface {
	Score(ctx context.Context, req ScoreRequest) (Assessment, error)
}

// ScoringFunc adapts a function to ScoringEngine.
type ScoringFunc func(ctx context.Context, req ScoreRequest) (Assessment, error)

func (f ScoringFunc) Score(ctx context.Context, req ScoreRequest) (Assessment, error) {
	return f(ctx, req)
}

// score calls the engine and normalizes its failures.
func score(ctx context.Context, engine ScoringEngine, req ScoreRequest) (Assessment, error) {
	a, err := engine.Score(ctx, req)
	if err != nil {
		if errors.Is(err, ErrUpstreamScoring) {
			return Assessment{}, err
		}
		return Assessment{}, fmt.Errorf("%w: %v", ErrUpstreamScoring, err)
	}
	if !a.Level.Valid() {
		return Assessment{}, fmt.Errorf("%w: engine returned level %d", ErrUpstreamScoring, int(a.Level))
	}
	if a.Label == "" {
		a.Label = a.Level.Label()
	}
	return a, nil
}

func requestFor(rec *PatientRecord) ScoreRequest {
	return ScoreRequest{
		PatientID:     rec.ID,
		Vitals:        rec.Vitals,
		Symptoms:      rec.SymptomsNarrative,
		History:       rec.History,
		RecallHistory: rec.RecentAssessments,
	}
}

func appendRecall(history []Assessment, a Assessment) []Assessment {
	history = append(history, a)
	if len(history) > maxRecall {
		history = history[len(history)-maxRecall:]
	}
	return history
}

// alertReason summarizes an assessment for the alert feed.
func alertReason(a Assessment) string {
	reason := a.PrimaryConcern
	if reason == "" {
		reason = a.Reasoning
	}
	if reason == "" {
		reason = fmt.Sprintf("reassessed as %s", a.Level.Label())
	}
	if len(a.RedFlags) > 0 {
		reason += " (red flags: " + strings.Join(a.RedFlags, ", ") + ")"
	}
	return reason
}
