package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ conn queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{conn: pool} }

// =========== Patients ===========

const patientCols = `id, name, age, gender, vitals, triage_level, arrival_time,
	symptoms_narrative, history, overridden, original_triage_level, removed,
	recent_assessments, decision, updated_at, version`

func (r *repoPG) scanPatient(row pgx.Row) (*PatientRecord, error) {
	var (
		p                            PatientRecord
		level                        int
		original                     *int
		vitals, assessments, decided []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &vitals, &level, &p.ArrivalTime,
		&p.SymptomsNarrative, &p.History, &p.Overridden, &original, &p.Removed,
		&assessments, &decided, &p.UpdatedAt, &p.Version)
	if err != nil {
		return nil, err
	}
	p.TriageLevel = Level(level)
	if original != nil {
		l := Level(*original)
		p.OriginalTriageLevel = &l
	}
	if err := unmarshalOptional(vitals, &p.Vitals); err != nil {
		return nil, fmt.Errorf("decode vitals for %s: %w", p.ID, err)
	}
	if err := unmarshalOptional(assessments, &p.RecentAssessments); err != nil {
		return nil, fmt.Errorf("decode assessments for %s: %w", p.ID, err)
	}
	if len(decided) > 0 && string(decided) != "null" {
		var d DecisionRecord
		if err := json.Unmarshal(decided, &d); err != nil {
			return nil, fmt.Errorf("decode decision for %s: %w", p.ID, err)
		}
		p.Decision = &d
	}
	return &p, nil
}

func (r *repoPG) UpsertPatient(ctx context.Context, p *PatientRecord) error {
	vitals, err := json.Marshal(p.Vitals)
	if err != nil {
		return err
	}
	assessments, err := json.Marshal(p.RecentAssessments)
	if err != nil {
		return err
	}
	decision, err := json.Marshal(p.Decision)
	if err != nil {
		return err
	}
	var original *int
	if p.OriginalTriageLevel != nil {
		l := int(*p.OriginalTriageLevel)
		original = &l
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO triage_patient (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, age=EXCLUDED.age, gender=EXCLUDED.gender,
			vitals=EXCLUDED.vitals, triage_level=EXCLUDED.triage_level,
			arrival_time=EXCLUDED.arrival_time, symptoms_narrative=EXCLUDED.symptoms_narrative,
			history=EXCLUDED.history, overridden=EXCLUDED.overridden,
			original_triage_level=EXCLUDED.original_triage_level, removed=EXCLUDED.removed,
			recent_assessments=EXCLUDED.recent_assessments, decision=EXCLUDED.decision,
			updated_at=EXCLUDED.updated_at, version=EXCLUDED.version
		WHERE triage_patient.version < EXCLUDED.version`,
		p.ID, p.Name, p.Age, p.Gender, vitals, int(p.TriageLevel), p.ArrivalTime,
		p.SymptomsNarrative, p.History, p.Overridden, original, p.Removed,
		assessments, decision, nonZeroTime(p.UpdatedAt), p.Version)
	return err
}

func (r *repoPG) PatientVersion(ctx context.Context, id string) (int64, error) {
	var v int64
	err := r.conn.QueryRow(ctx, `SELECT version FROM triage_patient WHERE id = $1`, id).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (r *repoPG) ListLivePatients(ctx context.Context) ([]*PatientRecord, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+patientCols+` FROM triage_patient
		WHERE removed = false ORDER BY arrival_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientRecord
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Alerts ===========

const alertCols = `id, patient_id, patient_name, original_triage_level, suggested_triage_level,
	reason, status, resolved_by, resolved_at, created_at, updated_at, version`

func (r *repoPG) scanAlert(row pgx.Row) (*Alert, error) {
	var (
		a                   Alert
		original, suggested int
		status              string
		resolvedBy          *string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &original, &suggested,
		&a.Reason, &status, &resolvedBy, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		return nil, err
	}
	a.OriginalTriageLevel = Level(original)
	a.SuggestedTriageLevel = Level(suggested)
	a.Status = AlertStatus(status)
	if resolvedBy != nil {
		a.ResolvedBy = *resolvedBy
	}
	return &a, nil
}

func (r *repoPG) UpsertAlert(ctx context.Context, a *Alert) error {
	var resolvedBy *string
	if a.ResolvedBy != "" {
		resolvedBy = &a.ResolvedBy
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO triage_alert (`+alertCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			patient_name=EXCLUDED.patient_name,
			original_triage_level=EXCLUDED.original_triage_level,
			suggested_triage_level=EXCLUDED.suggested_triage_level,
			reason=EXCLUDED.reason, status=EXCLUDED.status,
			resolved_by=EXCLUDED.resolved_by, resolved_at=EXCLUDED.resolved_at,
			updated_at=EXCLUDED.updated_at, version=EXCLUDED.version
		WHERE triage_alert.version < EXCLUDED.version`,
		a.ID, a.PatientID, a.PatientName, int(a.OriginalTriageLevel), int(a.SuggestedTriageLevel),
		a.Reason, string(a.Status), resolvedBy, a.ResolvedAt, a.CreatedAt, nonZeroTime(a.UpdatedAt), a.Version)
	return err
}

func (r *repoPG) ListPendingAlerts(ctx context.Context) ([]*Alert, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+alertCols+` FROM triage_alert
		WHERE status = $1 ORDER BY created_at`, string(AlertPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Decisions ===========

func (r *repoPG) InsertDecision(ctx context.Context, d DecisionRecord) error {
	var original *int
	if d.OriginalScore != nil {
		l := int(*d.OriginalScore)
		original = &l
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO triage_decision (patient_id, recommended_level, final_level,
			was_overridden, original_score, decided_by, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.PatientID, int(d.RecommendedLevel), int(d.FinalLevel),
		d.WasOverridden, original, d.DecidedBy, d.DecidedAt)
	return err
}

func (r *repoPG) ListDecisions(ctx context.Context, patientID string) ([]DecisionRecord, error) {
	rows, err := r.conn.Query(ctx, `SELECT patient_id, recommended_level, final_level,
			was_overridden, original_score, decided_by, decided_at
		FROM triage_decision WHERE patient_id = $1 ORDER BY decided_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DecisionRecord
	for rows.Next() {
		var (
			d                  DecisionRecord
			recommended, final int
			original           *int
		)
		if err := rows.Scan(&d.PatientID, &recommended, &final, &d.WasOverridden,
			&original, &d.DecidedBy, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.RecommendedLevel = Level(recommended)
		d.FinalLevel = Level(final)
		if original != nil {
			l := Level(*original)
			d.OriginalScore = &l
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func unmarshalOptional(b []byte, v interface{}) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nonZeroTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
