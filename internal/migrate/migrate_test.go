package migrate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorNamingRewritesFloorField(t *testing.T) {
	in := map[string]any{"floor": "중층", "location": "중층 창고"}

	out, ok := FloorNaming(in).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "1.5층", out["floor"])
	// Only the floor key uses the exact-match rule; free text is untouched.
	assert.Equal(t, "중층 창고", out["location"])
}

func TestFloorNamingRewritesRecordIDs(t *testing.T) {
	out := FloorNaming("PNL-중층-03")
	assert.Equal(t, "PNL-1.5층-03", out)

	// Embedded occurrences rewrite too.
	out = FloorNaming("PNL-A-중층-03-중층")
	assert.Equal(t, "PNL-A-1.5층-03-1.5층", out)

	// Strings without the prefix only migrate on exact token match.
	assert.Equal(t, "중층 어딘가", FloorNaming("중층 어딘가"))
	assert.Equal(t, "1.5층", FloorNaming("중층"))
}

func TestFloorNamingRecursesNestedShapes(t *testing.T) {
	in := map[string]any{
		"panels": []any{
			map[string]any{"floor": "중층", "boardId": "PNL-중층-01"},
			map[string]any{"floor": "1층"},
		},
	}

	out, ok := FloorNaming(in).(map[string]any)
	require.True(t, ok)

	panels := out["panels"].([]any)
	first := panels[0].(map[string]any)
	assert.Equal(t, "1.5층", first["floor"])
	assert.Equal(t, "PNL-1.5층-01", first["boardId"])
	second := panels[1].(map[string]any)
	assert.Equal(t, "1층", second["floor"])
}

func TestFloorNamingRewritesSerializedQRPayload(t *testing.T) {
	in := map[string]any{
		"qrData": `{"id":"PNL-중층-02","floor":"중층","note":"중층"}`,
	}

	out := FloorNaming(in).(map[string]any)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out["qrData"].(string)), &payload))
	assert.Equal(t, "PNL-1.5층-02", payload["id"])
	assert.Equal(t, "1.5층", payload["floor"])
	// Unrelated payload fields survive untouched.
	assert.Equal(t, "중층", payload["note"])
}

func TestFloorNamingLeavesOpaqueQRPayload(t *testing.T) {
	in := map[string]any{"qrData": "not json at all 중층"}

	out := FloorNaming(in).(map[string]any)
	assert.Equal(t, "not json at all 중층", out["qrData"])
}

func TestFloorNamingIdempotent(t *testing.T) {
	in := map[string]any{
		"floor":  "중층",
		"qrData": `{"id":"PNL-중층-02","floor":"중층"}`,
		"tags":   []any{"PNL-중층-09"},
	}

	once := FloorNaming(in)
	twice := FloorNaming(once)

	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestIdentityFieldPrecedence(t *testing.T) {
	t.Run("panelNo wins over legacy key", func(t *testing.T) {
		out := IdentityField(map[string]any{"panelNo": "3-1", "panelId": "old"})
		assert.Equal(t, "3-1", out["panelNo"])
		_, hasLegacy := out["panelId"]
		assert.False(t, hasLegacy)
	})

	t.Run("legacy key promoted", func(t *testing.T) {
		out := IdentityField(map[string]any{"panelId": "2", "floor": "1층"})
		assert.Equal(t, "2", out["panelNo"])
		_, hasLegacy := out["panelId"]
		assert.False(t, hasLegacy)
		assert.Equal(t, "1층", out["floor"])
	})

	t.Run("neither key present", func(t *testing.T) {
		out := IdentityField(map[string]any{"floor": "1층"})
		assert.Equal(t, UnknownPanel, out["panelNo"])
	})

	t.Run("nil map", func(t *testing.T) {
		assert.Nil(t, IdentityField(nil))
	})
}

func TestRecordAppliesBothMigrations(t *testing.T) {
	out := Record(map[string]any{"panelId": "PNL-중층-05", "floor": "중층"})

	assert.Equal(t, "PNL-1.5층-05", out["panelNo"])
	assert.Equal(t, "1.5층", out["floor"])
	_, hasLegacy := out["panelId"]
	assert.False(t, hasLegacy)
}
