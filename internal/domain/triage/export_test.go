package triage

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExportWorkbook(t *testing.T) {
	orig := Level(4)
	queue := []QueueView{
		{Position: 1, Patient: &PatientRecord{ID: "B", Name: "Bo", TriageLevel: 1, ArrivalTime: at(1)}},
		{Position: 2, Patient: &PatientRecord{ID: "A", Name: "Ana", TriageLevel: 3, ArrivalTime: at(0),
			Overridden: true, OriginalTriageLevel: &orig, SymptomsNarrative: "cough\nfever"}, EstimatedWaitMin: 5},
	}
	alerts := []*Alert{{ID: "a1", PatientID: "A", PatientName: "Ana", OriginalTriageLevel: 3,
		SuggestedTriageLevel: 2, Reason: "fever rising", Status: AlertPending, CreatedAt: at(2)}}

	data, err := ExportWorkbook(queue, alerts, at(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(queueSheet)
	if err != nil {
		t.Fatalf("read queue sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Position" || rows[1][1] != "B" || rows[2][1] != "A" {
		t.Errorf("unexpected queue rows %v", rows)
	}
	if rows[2][6] != "URGENT" || rows[2][10] != "Yes" || rows[2][11] != "4" {
		t.Errorf("unexpected row for A: %v", rows[2])
	}
	if rows[2][17] != "cough / fever" {
		t.Errorf("expected flattened narrative, got %q", rows[2][17])
	}

	alertRows, err := f.GetRows(alertsSheet)
	if err != nil {
		t.Fatalf("read alerts sheet: %v", err)
	}
	if len(alertRows) != 2 || alertRows[1][0] != "a1" || alertRows[1][6] != "pending" {
		t.Errorf("unexpected alert rows %v", alertRows)
	}
}

func TestExportWorkbook_Empty(t *testing.T) {
	data, err := ExportWorkbook(nil, nil, at(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(queueSheet)
	if len(rows) != 1 {
		t.Errorf("expected header only, got %d rows", len(rows))
	}
}
