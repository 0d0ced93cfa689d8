// Package recon reconciles stored inspection records with the seed topology
// and owns the in-memory working set that drives the UI. It is the only
// writer of the inspections and photos collections.
package recon

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"

	"panelscan/inspection-server/internal/imagecodec"
	"panelscan/inspection-server/internal/migrate"
	"panelscan/inspection-server/internal/model"
)

// Store is the slice of the embedded store the engine needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	AllInspections(ctx context.Context) ([]model.InspectionRecord, error)
	PutInspection(ctx context.Context, rec model.InspectionRecord) error
	DeleteInspection(ctx context.Context, panelNo string) error
	GetPhoto(ctx context.Context, panelNo string) (*model.Blob, error)
	GetThermalImage(ctx context.Context, panelNo string) (*model.Blob, error)
	PutPhoto(ctx context.Context, panelNo string, photo, thermal *model.Blob) error
}

// Engine merges store state with the seed topology and writes batches back.
type Engine struct {
	store  Store
	logger *slog.Logger
	seed   []model.InspectionRecord

	mu      sync.Mutex
	working []model.InspectionRecord
}

// New constructs an engine over the given store and seed topology.
func New(st Store, seedTopology []model.InspectionRecord, logger *slog.Logger) *Engine {
	return &Engine{store: st, logger: logger, seed: seedTopology}
}

// LoadWorkingSet reads every stored record, overlays stored photo data,
// appends seed entries for panels never seen before, and fills in missing
// positions. It never fails: when the store cannot be read the seed topology
// alone is returned, so the UI always has a usable set.
func (e *Engine) LoadWorkingSet(ctx context.Context) []model.InspectionRecord {
	stored, err := e.store.AllInspections(ctx)
	if err != nil {
		e.logger.Warn("load inspections failed, serving seed topology", "error", err)
		fallback := withPositions(cloneRecords(e.seed))
		e.replaceWorkingSet(fallback)
		return cloneRecords(fallback)
	}

	for i := range stored {
		migrated, changed := migrateRecord(stored[i])
		if !changed {
			continue
		}
		legacyNo := stored[i].PanelNo
		stored[i] = migrated
		if err := e.store.PutInspection(ctx, migrated); err != nil {
			e.logger.Warn("migration write-back failed", "panel", migrated.PanelNo, "error", err)
			continue
		}
		// A rewritten panel number re-keys the row; the legacy row must go,
		// or the next load would resurrect it alongside the migrated one.
		if migrated.PanelNo != legacyNo {
			if err := e.store.DeleteInspection(ctx, legacyNo); err != nil {
				e.logger.Warn("legacy record cleanup failed", "panel", legacyNo, "error", err)
			}
		}
	}

	for i := range stored {
		e.attachImages(ctx, &stored[i])
	}

	have := make(map[string]struct{}, len(stored))
	for _, rec := range stored {
		have[rec.PanelNo] = struct{}{}
	}
	for _, rec := range e.seed {
		if _, ok := have[rec.PanelNo]; ok {
			continue
		}
		stored = append(stored, rec)
	}

	stored = withPositions(stored)
	e.replaceWorkingSet(stored)
	return cloneRecords(stored)
}

// attachImages overlays the stored blobs as data URLs. The store always wins
// over a value already on the record: it is the source of truth for binary
// data. A failed photo read costs that panel its image, nothing more.
func (e *Engine) attachImages(ctx context.Context, rec *model.InspectionRecord) {
	photo, err := e.store.GetPhoto(ctx, rec.PanelNo)
	if err != nil {
		e.logger.Warn("photo read failed", "panel", rec.PanelNo, "error", err)
	} else if photo != nil {
		url := imagecodec.Encode(*photo)
		rec.PhotoURL = &url
	}

	thermal, err := e.store.GetThermalImage(ctx, rec.PanelNo)
	if err != nil {
		e.logger.Warn("thermal image read failed", "panel", rec.PanelNo, "error", err)
	} else if thermal != nil {
		url := imagecodec.Encode(*thermal)
		if rec.Thermal == nil {
			rec.Thermal = &model.ThermalData{}
		}
		rec.Thermal.ImageURL = &url
	}
}

// Reconcile deduplicates a candidate batch (last logical write per panel
// wins), installs the result as the new working set, and writes it through
// to the store. The in-memory set is replaced before any write is issued;
// the call returns only after every per-panel write has settled.
func (e *Engine) Reconcile(ctx context.Context, batch []model.InspectionRecord) []model.InspectionRecord {
	kept := Dedupe(batch)
	e.replaceWorkingSet(kept)

	var wg sync.WaitGroup
	for _, rec := range kept {
		wg.Add(1)
		go func(rec model.InspectionRecord) {
			defer wg.Done()
			e.persist(ctx, rec)
		}(rec)
	}
	wg.Wait()

	return cloneRecords(kept)
}

// WorkingSet returns a copy of the current in-memory set.
func (e *Engine) WorkingSet() []model.InspectionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecords(e.working)
}

func (e *Engine) replaceWorkingSet(records []model.InspectionRecord) {
	e.mu.Lock()
	e.working = cloneRecords(records)
	e.mu.Unlock()
}

// persist writes one panel's record and its photo side-effects. Failures are
// contained to the panel: they are logged, never propagated, and a photo
// write that fails falls back to deleting both slots so the photo collection
// never retains a blob its record no longer references.
func (e *Engine) persist(ctx context.Context, rec model.InspectionRecord) {
	if err := e.store.PutInspection(ctx, rec); err != nil {
		e.logger.Warn("persist inspection failed", "panel", rec.PanelNo, "error", err)
	}

	photo := e.decodeSlot(rec.PanelNo, "photo", rec.PhotoURL)
	var thermalURL *string
	if rec.Thermal != nil {
		thermalURL = rec.Thermal.ImageURL
	}
	thermal := e.decodeSlot(rec.PanelNo, "thermal", thermalURL)

	if photo == nil && thermal == nil {
		e.deletePhotos(ctx, rec.PanelNo)
		return
	}

	if err := e.store.PutPhoto(ctx, rec.PanelNo, photo, thermal); err != nil {
		e.logger.Warn("persist photos failed, clearing slots", "panel", rec.PanelNo, "error", err)
		e.deletePhotos(ctx, rec.PanelNo)
	}
}

// decodeSlot decodes one image slot, returning nil for an absent or
// undecodable value. A present-but-malformed value is a warning, not a
// failure: the record itself still persists.
func (e *Engine) decodeSlot(panelNo, slot string, dataURL *string) *model.Blob {
	if dataURL == nil || *dataURL == "" {
		return nil
	}
	blob, err := imagecodec.Decode(*dataURL)
	if err != nil {
		e.logger.Warn("image not persistable", "panel", panelNo, "slot", slot, "error", err)
		return nil
	}
	return &blob
}

// deletePhotos enforces the no-stale-blob invariant, retrying once.
func (e *Engine) deletePhotos(ctx context.Context, panelNo string) {
	if err := e.store.PutPhoto(ctx, panelNo, nil, nil); err == nil {
		return
	}
	if err := e.store.PutPhoto(ctx, panelNo, nil, nil); err != nil {
		e.logger.Warn("photo cleanup abandoned", "panel", panelNo, "error", err)
	}
}

// Dedupe keeps exactly one record per panel number: the one closest to the
// end of the input. The retained records keep the relative order they had in
// the input.
func Dedupe(batch []model.InspectionRecord) []model.InspectionRecord {
	seen := make(map[string]struct{}, len(batch))
	keep := make([]bool, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		if _, dup := seen[batch[i].PanelNo]; dup {
			continue
		}
		seen[batch[i].PanelNo] = struct{}{}
		keep[i] = true
	}

	out := make([]model.InspectionRecord, 0, len(seen))
	for i, rec := range batch {
		if keep[i] {
			out = append(out, rec)
		}
	}
	return out
}

// withPositions assigns a random fallback position, inside a safe margin,
// to any record missing one so every panel is always renderable.
func withPositions(records []model.InspectionRecord) []model.InspectionRecord {
	for i := range records {
		if records[i].Position == nil {
			records[i].Position = &model.Position{
				X: 10 + rand.Float64()*80,
				Y: 10 + rand.Float64()*80,
			}
		}
	}
	return records
}

// migrateRecord runs the legacy floor-naming sweep over a record by way of
// its JSON shape. Reports whether anything changed.
func migrateRecord(rec model.InspectionRecord) (model.InspectionRecord, bool) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return rec, false
	}

	var raw map[string]any
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return rec, false
	}

	migratedRaw := migrate.Record(raw)
	migratedJSON, err := json.Marshal(migratedRaw)
	if err != nil {
		return rec, false
	}

	reEncoded, err := json.Marshal(rawRoundTrip(encoded))
	if err != nil {
		return rec, false
	}
	if string(migratedJSON) == string(reEncoded) {
		return rec, false
	}

	var migrated model.InspectionRecord
	if err := json.Unmarshal(migratedJSON, &migrated); err != nil {
		return rec, false
	}
	return migrated, true
}

// rawRoundTrip normalizes a record's JSON through map form so the migrated
// and unmigrated shapes compare with identical key ordering.
func rawRoundTrip(encoded []byte) map[string]any {
	var raw map[string]any
	_ = json.Unmarshal(encoded, &raw)
	return raw
}

func cloneRecords(records []model.InspectionRecord) []model.InspectionRecord {
	out := make([]model.InspectionRecord, len(records))
	copy(out, records)
	return out
}
