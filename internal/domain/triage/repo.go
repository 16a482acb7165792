package triage

import "context"

// Repository persists the queue's logical state: patient records, alerts
// and decision records. Upserts carry a version and must ignore writes older
// than what is stored.
type Repository interface {
	UpsertPatient(ctx context.Context, rec *PatientRecord) error
	// PatientVersion returns the stored version for id, or 0 if none exists.
	PatientVersion(ctx context.Context, id string) (int64, error)
	UpsertAlert(ctx context.Context, a *Alert) error
	InsertDecision(ctx context.Context, d DecisionRecord) error
	ListLivePatients(ctx context.Context) ([]*PatientRecord, error)
	ListPendingAlerts(ctx context.Context) ([]*Alert, error)
	ListDecisions(ctx context.Context, patientID string) ([]DecisionRecord, error)
}

// NopRepository keeps nothing; the service then runs purely in memory.
type NopRepository struct{}

func (NopRepository) UpsertPatient(context.Context, *PatientRecord) error { return nil }

func (NopRepository) PatientVersion(context.Context, string) (int64, error) { return 0, nil }

func (NopRepository) UpsertAlert(context.Context, *Alert) error { return nil }

func (NopRepository) InsertDecision(context.Context, DecisionRecord) error { return nil }

func (NopRepository) ListLivePatients(context.Context) ([]*PatientRecord, error) { return nil, nil }

func (NopRepository) ListPendingAlerts(context.Context) ([]*Alert, error) { return nil, nil }

func (NopRepository) ListDecisions(context.Context, string) ([]DecisionRecord, error) {
	return nil, nil
}
