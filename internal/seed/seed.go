// Package seed carries the hard-coded as-built panel topology for the site.
// It is the baseline the reconciliation engine falls back to and the source
// of skeleton records for panels that have never been inspected. Seed entries
// never overwrite stored data.
package seed

import "panelscan/inspection-server/internal/model"

type skeleton struct {
	panelNo     string
	parent      string
	floor       string
	transformer string
	conductor   string
}

// The installation plan: two transformers, main panels per transformer, and
// hierarchical sub-panels (a "3-1-1" hangs off "3-1" which hangs off "3").
var plan = []skeleton{
	{panelNo: "1", floor: "1층", transformer: "TR-1", conductor: "F-CV 38sq"},
	{panelNo: "1-1", parent: "1", floor: "1층", transformer: "TR-1", conductor: "F-CV 22sq"},
	{panelNo: "2", floor: "1층", transformer: "TR-1", conductor: "F-CV 38sq"},
	{panelNo: "2-1", parent: "2", floor: "1.5층", transformer: "TR-1", conductor: "F-CV 22sq"},
	{panelNo: "3", floor: "2층", transformer: "TR-1", conductor: "F-CV 38sq"},
	{panelNo: "3-1", parent: "3", floor: "2층", transformer: "TR-1", conductor: "F-CV 22sq"},
	{panelNo: "3-1-1", parent: "3-1", floor: "2층", transformer: "TR-1", conductor: "F-CV 14sq"},
	{panelNo: "4", floor: "3층", transformer: "TR-2", conductor: "F-CV 38sq"},
	{panelNo: "4-1", parent: "4", floor: "3층", transformer: "TR-2", conductor: "F-CV 22sq"},
	{panelNo: "5", floor: "옥상", transformer: "TR-2", conductor: "F-CV 38sq"},
}

// Topology returns fresh skeleton records for every planned panel. Each call
// allocates anew so callers can mutate the result freely.
func Topology() []model.InspectionRecord {
	records := make([]model.InspectionRecord, 0, len(plan))
	for _, s := range plan {
		records = append(records, model.InspectionRecord{
			PanelNo:            s.panelNo,
			Status:             model.StatusPending,
			LastInspectionDate: model.NotYetInspected,
			ParentPanel:        s.parent,
			Floor:              s.floor,
			Transformer:        s.transformer,
			ConductorSize:      s.conductor,
		})
	}
	return records
}

// PanelNos returns the planned panel numbers in plan order.
func PanelNos() []string {
	nos := make([]string, 0, len(plan))
	for _, s := range plan {
		nos = append(nos, s.panelNo)
	}
	return nos
}
