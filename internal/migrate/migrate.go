// Package migrate rewrites record shapes left behind by two historical
// changes: the mezzanine floor rename (중층 became 1.5층, including inside
// record ids and serialized QR payloads) and the panelId → panelNo primary
// key rename. Transforms are pure, structural, and idempotent; they are
// applied to JSON-shaped values before typed decoding.
package migrate

import (
	"encoding/json"
	"strings"
)

const (
	// RecordIDPrefix marks strings that embed a panel record id, e.g. the
	// ids printed on QR labels ("PNL-중층-03").
	RecordIDPrefix = "PNL-"

	legacyFloorToken = "중층"
	newFloorToken    = "1.5층"

	floorField       = "floor"
	qrDataField      = "qrData"
	legacyBoardField = "boardId"

	// LegacyKeyField is the deprecated primary-key name; KeyField replaced it.
	LegacyKeyField = "panelId"
	KeyField       = "panelNo"

	// UnknownPanel is assigned when a legacy record carries neither key.
	UnknownPanel = "UNKNOWN"
)

// FloorNaming recursively rewrites legacy floor tokens anywhere in a
// JSON-shaped value (string, []any, or map[string]any). Applying it twice
// yields the same result as applying it once: migrated tokens no longer
// match the legacy patterns.
func FloorNaming(v any) any {
	switch node := v.(type) {
	case string:
		return migrateString(node)
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = FloorNaming(child)
		}
		return out
	case map[string]any:
		return migrateMap(node)
	default:
		return v
	}
}

func migrateMap(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, val := range node {
		str, isString := val.(string)
		switch {
		case key == floorField && isString && str == legacyFloorToken:
			out[key] = newFloorToken
		case key == qrDataField && isString:
			out[key] = migrateQRPayload(str)
		case key == legacyBoardField && isString:
			out[key] = rewriteRecordID(str)
		default:
			out[key] = FloorNaming(val)
		}
	}
	return out
}

func migrateString(s string) string {
	if strings.HasPrefix(s, RecordIDPrefix) {
		return rewriteRecordID(s)
	}
	if s == legacyFloorToken {
		return newFloorToken
	}
	return s
}

// rewriteRecordID replaces every legacy floor token inside a record-id
// string. This covers both embedded occurrences ("PNL-A-중층-03") and ids
// that begin with the prefix-plus-token combination ("PNL-중층-03").
func rewriteRecordID(s string) string {
	if !strings.HasPrefix(s, RecordIDPrefix) {
		return s
	}
	return strings.ReplaceAll(s, legacyFloorToken, newFloorToken)
}

// migrateQRPayload rewrites the relevant fields of a serialized QR payload.
// A string that is not valid JSON is returned untouched, never an error:
// opaque payloads are interpreted elsewhere.
func migrateQRPayload(payload string) string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return payload
	}

	for _, key := range []string{"id", KeyField, legacyBoardField} {
		if s, ok := decoded[key].(string); ok {
			decoded[key] = rewriteRecordID(s)
		}
	}
	if s, ok := decoded[floorField].(string); ok && s == legacyFloorToken {
		decoded[floorField] = newFloorToken
	}

	migrated, err := json.Marshal(decoded)
	if err != nil {
		return payload
	}
	return string(migrated)
}

// IdentityField converts a record that may still carry the deprecated
// panelId key to the current panelNo key. Precedence: an existing panelNo
// wins, then the legacy panelId, then the UNKNOWN sentinel. The legacy key
// is always dropped.
func IdentityField(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}

	out := make(map[string]any, len(raw))
	for key, val := range raw {
		if key == LegacyKeyField {
			continue
		}
		out[key] = val
	}

	panelNo, _ := raw[KeyField].(string)
	if panelNo == "" {
		panelNo, _ = raw[LegacyKeyField].(string)
	}
	if panelNo == "" {
		panelNo = UnknownPanel
	}
	out[KeyField] = panelNo

	return out
}

// Record runs both migrations over a raw record map: identity-field rename
// first, then the recursive floor-naming sweep.
func Record(raw map[string]any) map[string]any {
	migrated := FloorNaming(IdentityField(raw))
	out, _ := migrated.(map[string]any)
	return out
}
