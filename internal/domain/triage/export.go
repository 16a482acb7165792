package triage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	queueSheet  = "Queue"
	alertsSheet = "Alerts"
)

var queueExportHeader = []string{
	"Position", "Patient ID", "Name", "Age", "Gender", "Triage Level", "Label",
	"Arrival Time", "Waiting (min)", "Est. Wait (min)", "Overridden", "Original Level",
	"Heart Rate", "Temperature", "Resp. Rate", "Blood Pressure", "SpO2", "Symptoms",
}

var alertExportHeader = []string{
	"Alert ID", "Patient ID", "Patient Name", "Original Level", "Suggested Level",
	"Reason", "Status", "Created At", "Resolved By", "Resolved At",
}

// ExportWorkbook renders a queue snapshot and alert list as an xlsx file.
func ExportWorkbook(queue []QueueView, alerts []*Alert, now time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(queueSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]interface{}, 0, len(queue))
	for _, v := range queue {
		p := v.Patient
		var original interface{}
		if p.OriginalTriageLevel != nil {
			original = int(*p.OriginalTriageLevel)
		}
		rows = append(rows, []interface{}{
			v.Position, p.ID, p.Name, p.Age, p.Gender, int(p.TriageLevel), p.TriageLevel.Label(),
			p.ArrivalTime.Format(time.RFC3339), int(now.Sub(p.ArrivalTime).Minutes()), v.EstimatedWaitMin,
			yesNo(p.Overridden), original,
			p.Vitals.HeartRate, p.Vitals.Temperature, p.Vitals.RespiratoryRate,
			p.Vitals.BloodPressure, p.Vitals.OxygenSaturation,
			strings.ReplaceAll(p.SymptomsNarrative, "\n", " / "),
		})
	}
	if err := writeSheet(f, queueSheet, queueExportHeader, rows, headerStyle); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, a := range alerts {
		var resolvedAt string
		if a.ResolvedAt != nil {
			resolvedAt = a.ResolvedAt.Format(time.RFC3339)
		}
		rows = append(rows, []interface{}{
			a.ID, a.PatientID, a.PatientName, int(a.OriginalTriageLevel), int(a.SuggestedTriageLevel),
			a.Reason, string(a.Status), a.CreatedAt.Format(time.RFC3339), a.ResolvedBy, resolvedAt,
		})
	}
	if err := writeSheet(f, alertsSheet, alertExportHeader, rows, headerStyle); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, float64(len(h)+6)); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
