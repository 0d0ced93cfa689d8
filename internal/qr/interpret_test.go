package qr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelscan/inspection-server/internal/model"
)

func fixedNow(t *testing.T) time.Time {
	t.Helper()
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	prev := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = prev })
	return fixed
}

func workingSet() []model.InspectionRecord {
	return []model.InspectionRecord{
		{PanelNo: "1", Status: model.StatusPending},
		{PanelNo: "3-1", Status: model.StatusPending, Contractor: "기존시공사"},
		{PanelNo: "3-1-1", Status: model.StatusPending},
	}
}

func TestInterpretExactMatchUpdates(t *testing.T) {
	fixed := fixedNow(t)

	event := Interpret(`{"panelNo":"3-1","contractor":"새시공사"}`, workingSet(), nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "3-1", event.Record.PanelNo)
	assert.Equal(t, "새시공사", event.Record.Contractor)
	assert.Equal(t, fixed.Format(model.InspectionTimeLayout), event.Record.LastInspectionDate)
	// Status is left to the inspector, not the scan.
	assert.Equal(t, model.StatusPending, event.Record.Status)
}

func TestInterpretExactBeatsSubstring(t *testing.T) {
	fixedNow(t)

	// "3-1-1" is a substring-superset of "3-1"; the exact panel must win.
	event := Interpret(`{"panelNo":"3-1-1"}`, workingSet(), nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "3-1-1", event.Record.PanelNo)
}

func TestInterpretSubstringTieBreak(t *testing.T) {
	fixedNow(t)

	// "3-1" matches both "3-1" (exactly, removed here) and "3-1-1". With no
	// exact entry the shortest panel number wins.
	set := []model.InspectionRecord{
		{PanelNo: "3-1-1"},
		{PanelNo: "3-1-2"},
	}
	event := Interpret("3-1", set, nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "3-1-1", event.Record.PanelNo)
}

func TestInterpretKoreanAliases(t *testing.T) {
	fixedNow(t)

	event := Interpret(`{"분전반번호":"1","시공사":"한빛전기","현장명":"물류센터"}`, workingSet(), nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "1", event.Record.PanelNo)
	assert.Equal(t, "한빛전기", event.Record.Contractor)
	assert.Equal(t, "물류센터", event.Record.ProjectName)
}

func TestInterpretEmptyFieldsDoNotOverwrite(t *testing.T) {
	fixedNow(t)

	event := Interpret(`{"panelNo":"3-1","contractor":""}`, workingSet(), nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "기존시공사", event.Record.Contractor)
}

func TestInterpretUnparsablePayloadSynthesizes(t *testing.T) {
	fixed := fixedNow(t)

	event := Interpret("hello", nil, nil)

	require.Equal(t, CreateNew, event.Kind)
	assert.Equal(t, "1층-미지정", event.Record.PanelNo)
	assert.Equal(t, "1층", event.Record.Floor)
	assert.Equal(t, model.StatusInProgress, event.Record.Status)
	assert.Equal(t, fixed.Format(model.InspectionTimeLayout), event.Record.LastInspectionDate)
	assert.False(t, event.Record.Loads.Welder)
	assert.False(t, event.Record.Loads.Grinder)
	assert.False(t, event.Record.Loads.Light)
	assert.False(t, event.Record.Loads.Pump)
}

func TestInterpretSynthesizesFromPayloadFields(t *testing.T) {
	fixedNow(t)

	event := Interpret(`{"panelNo":"7","floor":"2층","position":{"x":25,"y":75}}`, workingSet(), nil)

	require.Equal(t, CreateNew, event.Kind)
	assert.Equal(t, "7", event.Record.PanelNo)
	assert.Equal(t, "2층", event.Record.Floor)
	require.NotNil(t, event.Record.Position)
	assert.Equal(t, 25.0, event.Record.Position.X)
	assert.Equal(t, 75.0, event.Record.Position.Y)
}

func TestInterpretMatchesKnownCode(t *testing.T) {
	fixedNow(t)

	known := []model.QRCodeData{
		{
			ID:       "code-1",
			Floor:    "옥상",
			Location: "옥탑",
			QRData:   `{"id":"code-1","panelNo":"9"}`,
		},
	}

	event := Interpret(`{"panelNo":"9"}`, workingSet(), known)

	require.Equal(t, CreateNew, event.Kind)
	assert.Equal(t, "code-1", event.QRCodeID)
	// The printed code fills the floor and location gaps.
	assert.Equal(t, "옥상", event.Record.Floor)
	assert.Equal(t, "9", event.Record.PanelNo)
}

func TestInterpretRecordIDToken(t *testing.T) {
	fixedNow(t)

	set := []model.InspectionRecord{{PanelNo: "PNL-1.5층-03"}}
	event := Interpret("scanned label PNL-1.5층-03 rev2", set, nil)

	require.Equal(t, UpdateExisting, event.Kind)
	assert.Equal(t, "PNL-1.5층-03", event.Record.PanelNo)
}

func TestParsePosition(t *testing.T) {
	t.Run("object with both coordinates", func(t *testing.T) {
		pos := parsePosition(map[string]any{"x": 12.5, "y": 30.0})
		require.NotNil(t, pos)
		assert.Equal(t, 12.5, pos.X)
		assert.Equal(t, 30.0, pos.Y)
	})

	t.Run("object missing y", func(t *testing.T) {
		pos := parsePosition(map[string]any{"x": "40"})
		require.NotNil(t, pos)
		assert.Equal(t, 40.0, pos.X)
		assert.Equal(t, 50.0, pos.Y)
	})

	t.Run("bare numeric string", func(t *testing.T) {
		pos := parsePosition(" 33 ")
		require.NotNil(t, pos)
		assert.Equal(t, 33.0, pos.X)
		assert.Equal(t, 50.0, pos.Y)
	})

	t.Run("unusable values", func(t *testing.T) {
		assert.Nil(t, parsePosition(nil))
		assert.Nil(t, parsePosition("not a number"))
		assert.Nil(t, parsePosition(map[string]any{"y": 5.0}))
	})
}
