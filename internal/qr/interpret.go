// Package qr turns a raw scanned string into a normalized event against the
// working set. Payloads are best-effort: valid JSON is preferred, but any
// opaque string still interprets successfully. There is no error state; the
// worst case is a panel synthesized from default tokens.
package qr

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"panelscan/inspection-server/internal/migrate"
	"panelscan/inspection-server/internal/model"
)

// EventKind distinguishes the two outcomes of a scan.
type EventKind string

const (
	// UpdateExisting patches a record already in the working set.
	UpdateExisting EventKind = "update_existing"
	// CreateNew introduces a panel the working set has never seen.
	CreateNew EventKind = "create_new"
)

// Event is the normalized result of interpreting one scan.
type Event struct {
	Kind   EventKind
	Record model.InspectionRecord
	// QRCodeID names the printed code whose payload matched the scan, when
	// one was found among the known codes.
	QRCodeID string
}

// Defaults used when a synthesized panel has no floor or location to go on.
const (
	defaultFloor    = "1층"
	defaultLocation = "미지정"
)

// now is swapped out in tests.
var now = time.Now

// fieldAccessor extracts one candidate value for a logical field.
type fieldAccessor func(map[string]any) string

func key(name string) fieldAccessor {
	return func(payload map[string]any) string {
		s, _ := payload[name].(string)
		return strings.TrimSpace(s)
	}
}

// Alias precedence per logical field. Scanner apps in the field have emitted
// both English and Korean key names; order is the authoritative precedence.
var (
	panelNoFields    = []fieldAccessor{key("panelNo"), key("분전반번호")}
	panelNameFields  = []fieldAccessor{key("panelName"), key("분전반명")}
	idFields         = []fieldAccessor{key("id")}
	projectFields    = []fieldAccessor{key("projectName"), key("현장명")}
	contractorFields = []fieldAccessor{key("contractor"), key("시공사")}
	managementFields = []fieldAccessor{key("managementNo"), key("관리번호")}
	floorFields      = []fieldAccessor{key("floor"), key("층")}
	locationFields   = []fieldAccessor{key("location"), key("위치")}
)

func first(payload map[string]any, accessors []fieldAccessor) string {
	for _, get := range accessors {
		if v := get(payload); v != "" {
			return v
		}
	}
	return ""
}

// Interpret parses a scanned string and resolves it against the working set
// and the known printed codes. It never fails.
func Interpret(raw string, workingSet []model.InspectionRecord, known []model.QRCodeData) Event {
	payload := parsePayload(raw)
	candidate := candidateID(payload, raw)
	matchedCode := matchKnownCode(candidate, known)

	if rec, ok := resolve(candidate, workingSet); ok {
		return Event{
			Kind:     UpdateExisting,
			Record:   patchExisting(rec, payload),
			QRCodeID: matchedCode,
		}
	}

	return Event{
		Kind:     CreateNew,
		Record:   synthesize(payload, known, matchedCode),
		QRCodeID: matchedCode,
	}
}

// parsePayload attempts a strict JSON parse, degrading to a single-field
// wrapper so downstream extraction has a uniform shape.
func parsePayload(raw string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return map[string]any{"raw": raw}
	}
	return payload
}

// candidateID picks the identifier used for working-set resolution.
func candidateID(payload map[string]any, raw string) string {
	if v := first(payload, panelNoFields); v != "" {
		return v
	}
	if v := first(payload, panelNameFields); v != "" {
		return v
	}
	if v := first(payload, idFields); v != "" {
		return v
	}
	if i := strings.Index(raw, migrate.RecordIDPrefix); i >= 0 {
		return firstToken(raw[i:])
	}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return trimmed
	}
	return migrate.UnknownPanel
}

func firstToken(s string) string {
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }); i >= 0 {
		return s[:i]
	}
	return s
}

// matchKnownCode cross-references the printed codes: each code's stored
// payload is parsed and its identifier compared against the candidate,
// falling back to the code's own id when the payload is not JSON.
func matchKnownCode(candidate string, known []model.QRCodeData) string {
	for _, code := range known {
		var payload map[string]any
		if err := json.Unmarshal([]byte(code.QRData), &payload); err == nil && payload != nil {
			id := first(payload, panelNoFields)
			if id == "" {
				id = first(payload, idFields)
			}
			if id != "" && id == candidate {
				return code.ID
			}
			continue
		}
		if code.ID == candidate {
			return code.ID
		}
	}
	return ""
}

// resolve matches the candidate against stored panel numbers. An exact match
// wins; otherwise substring containment in either direction, which lets a
// scan of "3-1" find "3-1-1" and vice versa. Among several substring matches
// the shortest panel number wins, ties broken lexicographically.
func resolve(candidate string, workingSet []model.InspectionRecord) (model.InspectionRecord, bool) {
	if candidate == "" || candidate == migrate.UnknownPanel {
		return model.InspectionRecord{}, false
	}

	for _, rec := range workingSet {
		if rec.PanelNo == candidate {
			return rec, true
		}
	}

	var matches []model.InspectionRecord
	for _, rec := range workingSet {
		if rec.PanelNo == "" {
			continue
		}
		if strings.Contains(rec.PanelNo, candidate) || strings.Contains(candidate, rec.PanelNo) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return model.InspectionRecord{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i].PanelNo) != len(matches[j].PanelNo) {
			return len(matches[i].PanelNo) < len(matches[j].PanelNo)
		}
		return matches[i].PanelNo < matches[j].PanelNo
	})
	return matches[0], true
}

// patchExisting refreshes the inspection timestamp and overwrites the three
// scan-supplied metadata fields only when the payload carries a non-empty
// value for them.
func patchExisting(rec model.InspectionRecord, payload map[string]any) model.InspectionRecord {
	rec.LastInspectionDate = now().Format(model.InspectionTimeLayout)
	if v := first(payload, projectFields); v != "" {
		rec.ProjectName = v
	}
	if v := first(payload, contractorFields); v != "" {
		rec.Contractor = v
	}
	if v := first(payload, managementFields); v != "" {
		rec.ManagementNo = v
	}
	return rec
}

// synthesize builds a fresh record for a panel the working set has never
// seen. The panel number comes from the payload's identifier fields, else a
// floor+location composition (the matched printed code fills gaps).
func synthesize(payload map[string]any, known []model.QRCodeData, matchedCode string) model.InspectionRecord {
	panelNo := first(payload, panelNoFields)
	if panelNo == "" {
		panelNo = first(payload, panelNameFields)
	}
	if panelNo == "" {
		panelNo = first(payload, idFields)
	}

	floor := first(payload, floorFields)
	location := first(payload, locationFields)
	if matchedCode != "" {
		for _, code := range known {
			if code.ID != matchedCode {
				continue
			}
			if floor == "" {
				floor = code.Floor
			}
			if location == "" {
				location = code.Location
			}
			break
		}
	}
	if floor == "" {
		floor = defaultFloor
	}
	if location == "" {
		location = defaultLocation
	}
	if panelNo == "" {
		panelNo = floor + "-" + location
	}

	rec := model.InspectionRecord{
		PanelNo:            panelNo,
		Status:             model.StatusInProgress,
		LastInspectionDate: now().Format(model.InspectionTimeLayout),
		Floor:              floor,
		ProjectName:        first(payload, projectFields),
		Contractor:         first(payload, contractorFields),
		ManagementNo:       first(payload, managementFields),
		Position:           parsePosition(payload["position"]),
	}
	return rec
}

// parsePosition accepts either a structured {x,y} object or a bare numeric
// x-coordinate (number or string). With only x recoverable, y defaults to
// the vertical middle of the plan.
func parsePosition(v any) *model.Position {
	switch pos := v.(type) {
	case map[string]any:
		x, okX := toFloat(pos["x"])
		if !okX {
			return nil
		}
		y, okY := toFloat(pos["y"])
		if !okY {
			y = 50
		}
		return &model.Position{X: x, Y: y}
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(pos), 64)
		if err != nil {
			return nil
		}
		return &model.Position{X: x, Y: 50}
	case float64:
		return &model.Position{X: pos, Y: 50}
	default:
		return nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
