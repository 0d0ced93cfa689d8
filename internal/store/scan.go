package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"panelscan/inspection-server/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInspection(row rowScanner) (model.InspectionRecord, error) {
	var (
		rec                           model.InspectionRecord
		status                        string
		welder, grinder, light, pump  int
		posX, posY                    sql.NullFloat64
		projectName, contractor       sql.NullString
		managementNo, grounding       sql.NullString
		memo, notes, parentPanel      sql.NullString
		floor, transformer, conductor sql.NullString
		inspectors, breakers          sql.NullString
		thermal, loadSummary          sql.NullString
	)

	err := row.Scan(
		&rec.PanelNo, &status, &rec.LastInspectionDate,
		&welder, &grinder, &light, &pump,
		&posX, &posY,
		&projectName, &contractor, &managementNo, &grounding,
		&memo, &notes, &parentPanel, &floor, &transformer, &conductor,
		&inspectors, &breakers, &thermal, &loadSummary,
	)
	if err != nil {
		return model.InspectionRecord{}, err
	}

	rec.Status = model.Status(status)
	rec.Loads = model.Loads{Welder: welder != 0, Grinder: grinder != 0, Light: light != 0, Pump: pump != 0}
	if posX.Valid && posY.Valid {
		rec.Position = &model.Position{X: posX.Float64, Y: posY.Float64}
	}
	rec.ProjectName = projectName.String
	rec.Contractor = contractor.String
	rec.ManagementNo = managementNo.String
	rec.Grounding = model.Grounding(grounding.String)
	rec.Memo = memo.String
	rec.Notes = notes.String
	rec.ParentPanel = parentPanel.String
	rec.Floor = floor.String
	rec.Transformer = transformer.String
	rec.ConductorSize = conductor.String

	if inspectors.Valid {
		if err := json.Unmarshal([]byte(inspectors.String), &rec.Inspectors); err != nil {
			return model.InspectionRecord{}, fmt.Errorf("decode inspectors: %w", err)
		}
	}
	if breakers.Valid {
		if err := json.Unmarshal([]byte(breakers.String), &rec.Breakers); err != nil {
			return model.InspectionRecord{}, fmt.Errorf("decode breakers: %w", err)
		}
	}
	if thermal.Valid {
		rec.Thermal = &model.ThermalData{}
		if err := json.Unmarshal([]byte(thermal.String), rec.Thermal); err != nil {
			return model.InspectionRecord{}, fmt.Errorf("decode thermal block: %w", err)
		}
	}
	if loadSummary.Valid {
		rec.LoadSummary = &model.LoadSummary{}
		if err := json.Unmarshal([]byte(loadSummary.String), rec.LoadSummary); err != nil {
			return model.InspectionRecord{}, fmt.Errorf("decode load summary: %w", err)
		}
	}

	return rec, nil
}

func scanQRCode(row rowScanner) (model.QRCodeData, error) {
	var (
		code      model.QRCodeData
		position  sql.NullString
		createdAt string
	)

	err := row.Scan(&code.ID, &code.Location, &code.Floor, &position, &code.QRData, &createdAt)
	if err != nil {
		return model.QRCodeData{}, err
	}

	code.Position = position.String
	code.CreatedAt = parseStoredTime(createdAt)
	return code, nil
}

// marshalOrNull serializes a slice or pointer value as JSON, mapping empty
// and nil to SQL NULL.
func marshalOrNull(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Pointer:
		if rv.IsNil() || (rv.Kind() == reflect.Slice && rv.Len() == 0) {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// marshalThermal persists the measurement block without its image URL; the
// thermal image itself lives in the photo collection.
func marshalThermal(t *model.ThermalData) (any, error) {
	if t == nil {
		return nil, nil
	}
	stripped := *t
	stripped.ImageURL = nil
	data, err := json.Marshal(stripped)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02T15:04:05Z07:00", s)
	}
	return t
}
