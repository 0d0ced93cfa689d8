package model

import "time"

// Status tracks how far along a panel's inspection is.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// NotYetInspected is the sentinel used for panels that have never been visited.
const NotYetInspected = "미점검"

// InspectionTimeLayout is the display format recorded on scans and edits.
const InspectionTimeLayout = "2006-01-02 15:04"

// Position places a panel marker on a floor-plan image. Coordinates are
// percentages of the plan's width and height, 0..100.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Loads holds the four independent load flags recorded per panel.
type Loads struct {
	Welder  bool `json:"welder"`
	Grinder bool `json:"grinder"`
	Light   bool `json:"light"`
	Pump    bool `json:"pump"`
}

// Grounding reports the result of the grounding continuity check.
type Grounding string

const (
	GroundingUnchecked Grounding = "unchecked"
	GroundingGood      Grounding = "good"
	GroundingDefective Grounding = "defective"
)

// BreakerRecord captures one breaker's readings inside a panel.
type BreakerRecord struct {
	Circuit  string  `json:"circuit"`
	Capacity string  `json:"capacity,omitempty"`
	Current  float64 `json:"current,omitempty"`
	Voltage  float64 `json:"voltage,omitempty"`
}

// ThermalData holds the thermal-imaging measurement block. ImageURL is a
// data-URL view of the stored thermal image; the blob itself lives in the
// photo record.
type ThermalData struct {
	ImageURL *string `json:"imageUrl,omitempty"`
	MaxTemp  float64 `json:"maxTemp,omitempty"`
	AvgTemp  float64 `json:"avgTemp,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// LoadSummary aggregates the measured load of a panel.
type LoadSummary struct {
	TotalKW float64 `json:"totalKw,omitempty"`
	PeakKW  float64 `json:"peakKw,omitempty"`
	Phase   string  `json:"phase,omitempty"`
}

// InspectionRecord is the primary domain entity: one per physical
// distribution panel, keyed by PanelNo. PanelNo is assigned once (seed
// topology, QR scan, or manual add) and never regenerated.
type InspectionRecord struct {
	PanelNo            string          `json:"panelNo"`
	Status             Status          `json:"status"`
	LastInspectionDate string          `json:"lastInspectionDate"`
	Loads              Loads           `json:"loads"`
	PhotoURL           *string         `json:"photoUrl,omitempty"`
	Thermal            *ThermalData    `json:"thermalImage,omitempty"`
	Position           *Position       `json:"position,omitempty"`
	ProjectName        string          `json:"projectName,omitempty"`
	Contractor         string          `json:"contractor,omitempty"`
	ManagementNo       string          `json:"managementNo,omitempty"`
	Inspectors         []string        `json:"inspectors,omitempty"`
	Breakers           []BreakerRecord `json:"breakers,omitempty"`
	Grounding          Grounding       `json:"grounding,omitempty"`
	LoadSummary        *LoadSummary    `json:"loadSummary,omitempty"`
	Memo               string          `json:"memo,omitempty"`
	ParentPanel        string          `json:"parentPanel,omitempty"`
	Notes              string          `json:"notes,omitempty"`

	// Seed-topology metadata carried through from the installation plan.
	Floor         string `json:"floor,omitempty"`
	Transformer   string `json:"transformer,omitempty"`
	ConductorSize string `json:"conductorSize,omitempty"`
}

// Blob is a raw binary payload plus its MIME type.
type Blob struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// PhotoRecord pairs a panel with its stored binary payloads. A record with
// neither blob present is deleted rather than kept as a placeholder row.
type PhotoRecord struct {
	PanelNo   string    `json:"panelNo"`
	Photo     *Blob     `json:"photo,omitempty"`
	Thermal   *Blob     `json:"thermal,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QRCodeData describes a printed QR code's real-world placement. QRData holds
// the exact JSON string encoded into the printed code; its panel reference is
// resolved at scan time, never at creation time.
type QRCodeData struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Floor     string    `json:"floor"`
	Position  string    `json:"position,omitempty"`
	QRData    string    `json:"qrData"`
	CreatedAt time.Time `json:"createdAt"`
}

// FloorPlan is a rendering backdrop keyed by floor identifier.
type FloorPlan struct {
	Floor     string    `json:"floor"`
	Image     Blob      `json:"image"`
	UpdatedAt time.Time `json:"updatedAt"`
}
