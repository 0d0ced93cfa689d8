// Package app wires the inspection server together: the embedded store, the
// reconciliation engine, the HTTP surface the UI consumes, the MQTT scan
// feed, and the LAN advertisement.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"panelscan/inspection-server/internal/config"
	"panelscan/inspection-server/internal/migrate"
	"panelscan/inspection-server/internal/model"
	"panelscan/inspection-server/internal/qr"
	"panelscan/inspection-server/internal/recon"
	"panelscan/inspection-server/internal/scanfeed"
	"panelscan/inspection-server/internal/seed"
	"panelscan/inspection-server/internal/store"
)

// App manages the lifecycle of the inspection server's services.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *recon.Engine
	feed   *scanfeed.Feed
	hub    *wsHub
	mdns   *zeroconf.Server

	// scanMu serializes scan application. Scans arrive concurrently from the
	// feed goroutines and HTTP requests, and applying one is a
	// read-modify-write over the working set.
	scanMu sync.Mutex
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.migrateQRCodes(ctx)

	a.engine = recon.New(a.store, seed.Topology(), a.logger)
	working := a.engine.LoadWorkingSet(ctx)
	a.logger.Info("working set loaded", "panels", len(working))

	a.hub = newWSHub(a.logger)
	defer a.hub.closeAll()

	if a.cfg.MQTTBrokerURL != "" {
		feed := scanfeed.New(a.cfg.MQTTBrokerURL, a.cfg.ScanTopic, a.logger, a.handleScanPayload)
		if err := feed.Start(ctx); err != nil {
			return err
		}
		a.feed = feed
		defer a.feed.Stop()
	}

	if a.cfg.EnableMDNS {
		if err := a.startMDNS(); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-httpErrCh:
		return err
	}
}

// migrateQRCodes runs the legacy floor-naming sweep over the stored QR
// definitions once per startup. A rewritten id re-keys the record.
func (a *App) migrateQRCodes(ctx context.Context) {
	codes, err := a.store.AllQRCodes(ctx)
	if err != nil {
		a.logger.Warn("qr migration sweep skipped", "error", err)
		return
	}

	for _, code := range codes {
		raw := map[string]any{
			"id":       code.ID,
			"location": code.Location,
			"floor":    code.Floor,
			"position": code.Position,
			"qrData":   code.QRData,
		}
		migrated, ok := migrate.FloorNaming(raw).(map[string]any)
		if !ok {
			continue
		}

		next := code
		next.ID, _ = migrated["id"].(string)
		next.Location, _ = migrated["location"].(string)
		next.Floor, _ = migrated["floor"].(string)
		next.Position, _ = migrated["position"].(string)
		next.QRData, _ = migrated["qrData"].(string)

		if next == code {
			continue
		}

		if err := a.store.PutQRCode(ctx, next); err != nil {
			a.logger.Warn("qr migration write failed", "id", code.ID, "error", err)
			continue
		}
		if next.ID != code.ID {
			if err := a.store.DeleteQRCode(ctx, code.ID); err != nil {
				a.logger.Warn("qr migration cleanup failed", "id", code.ID, "error", err)
			}
		}
		a.logger.Info("qr code migrated", "id", next.ID)
	}
}

// handleScanPayload routes one raw scan string from the MQTT feed.
func (a *App) handleScanPayload(ctx context.Context, deviceID, payload string) {
	scanCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	event := a.applyScan(scanCtx, payload)
	a.logger.Info("ingested scan", "device", deviceID, "kind", string(event.Kind), "panel", event.Record.PanelNo)
}

// applyScan interprets a raw scan string against the current working set and
// folds the resulting event back in through the reconciliation engine.
func (a *App) applyScan(ctx context.Context, payload string) qr.Event {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	working := a.engine.WorkingSet()

	known, err := a.store.AllQRCodes(ctx)
	if err != nil {
		a.logger.Warn("known qr codes unavailable for scan", "error", err)
	}

	event := qr.Interpret(payload, working, known)

	batch := working
	switch event.Kind {
	case qr.UpdateExisting:
		for i := range batch {
			if batch[i].PanelNo == event.Record.PanelNo {
				batch[i] = event.Record
				break
			}
		}
	case qr.CreateNew:
		batch = append(batch, event.Record)
	}

	reconciled := a.engine.Reconcile(ctx, batch)
	a.hub.broadcast(panelsResponse{Panels: reconciled})
	return event
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/panels", a.handlePanels)
	mux.HandleFunc("/api/panels/", a.handlePanelSub)
	mux.HandleFunc("/api/scan", a.handleScan)
	mux.HandleFunc("/api/qrcodes", a.handleQRCodes)
	mux.HandleFunc("/api/qrcodes/", a.handleQRCodeByID)
	mux.HandleFunc("/api/floorplans", a.handleFloorPlans)
	mux.HandleFunc("/api/floorplans/", a.handleFloorPlanByKey)
	mux.HandleFunc("/ws", a.hub.handle)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

type panelsResponse struct {
	Panels []model.InspectionRecord `json:"panels"`
}

// handlePanels serves the working set and accepts reload requests.
func (a *App) handlePanels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var panels []model.InspectionRecord
	if r.URL.Query().Get("reload") == "true" {
		panels = a.engine.LoadWorkingSet(ctx)
	} else {
		panels = a.engine.WorkingSet()
	}

	writeJSON(w, a.logger, panelsResponse{Panels: panels})
}

// handlePanelSub dispatches /api/panels/reconcile and
// /api/panels/{panelNo}/report.
func (a *App) handlePanelSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/panels/")

	if rest == "reconcile" {
		a.handleReconcile(w, r)
		return
	}

	if panelNo, ok := strings.CutSuffix(rest, "/report"); ok && !strings.Contains(panelNo, "/") {
		a.handleReport(w, r, panelNo)
		return
	}

	http.NotFound(w, r)
}

// handleReconcile accepts a bulk record batch: a UI edit set or a
// spreadsheet import. Legacy shapes are migrated before typed decoding.
// A body that cannot be parsed at all fails as one summary error.
func (a *App) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rawBatch []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rawBatch); err != nil {
		http.Error(w, "import payload could not be parsed", http.StatusBadRequest)
		return
	}

	batch := make([]model.InspectionRecord, 0, len(rawBatch))
	skipped := 0
	for _, raw := range rawBatch {
		rec, err := decodeRecord(migrate.Record(raw))
		if err != nil {
			skipped++
			a.logger.Warn("import record skipped", "error", err)
			continue
		}
		batch = append(batch, rec)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	reconciled := a.engine.Reconcile(ctx, batch)
	a.hub.broadcast(panelsResponse{Panels: reconciled})

	response := struct {
		Panels  []model.InspectionRecord `json:"panels"`
		Skipped int                      `json:"skipped,omitempty"`
	}{Panels: reconciled, Skipped: skipped}

	writeJSON(w, a.logger, response)
}

// handleScan accepts one raw scan payload from the UI. The body is either a
// JSON envelope {"payload": "..."} or, degraded, the raw scanned text.
func (a *App) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	payload := string(body)
	var envelope struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Payload != "" {
		payload = envelope.Payload
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	event := a.applyScan(ctx, payload)

	response := struct {
		Kind     string                 `json:"kind"`
		Panel    model.InspectionRecord `json:"panel"`
		QRCodeID string                 `json:"qrCodeId,omitempty"`
	}{Kind: string(event.Kind), Panel: event.Record, QRCodeID: event.QRCodeID}

	writeJSON(w, a.logger, response)
}

// handleQRCodes lists and creates printed QR-code definitions.
func (a *App) handleQRCodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		codes, err := a.store.AllQRCodes(ctx)
		if err != nil {
			a.logger.Error("failed to load qr codes", "error", err)
			http.Error(w, "failed to load qr codes", http.StatusInternalServerError)
			return
		}
		writeJSON(w, a.logger, struct {
			Codes []model.QRCodeData `json:"codes"`
		}{Codes: codes})

	case http.MethodPost:
		var req struct {
			Location string `json:"location"`
			Floor    string `json:"floor"`
			Position string `json:"position"`
			PanelNo  string `json:"panelNo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if req.Location == "" || req.Floor == "" {
			http.Error(w, "location and floor are required", http.StatusBadRequest)
			return
		}

		code := model.QRCodeData{
			ID:        uuid.NewString(),
			Location:  req.Location,
			Floor:     req.Floor,
			Position:  req.Position,
			CreatedAt: time.Now().UTC(),
		}

		// The exact string printed into the code. Scanners round-trip it
		// verbatim, so it is frozen at creation time.
		encoded, err := json.Marshal(map[string]string{
			"id":       code.ID,
			"panelNo":  req.PanelNo,
			"floor":    req.Floor,
			"location": req.Location,
		})
		if err != nil {
			http.Error(w, "failed to encode qr payload", http.StatusInternalServerError)
			return
		}
		code.QRData = string(encoded)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := a.store.PutQRCode(ctx, code); err != nil {
			a.logger.Error("failed to store qr code", "error", err)
			http.Error(w, "failed to store qr code", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, a.logger, code)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQRCodeByID serves get, reposition, and delete for one definition.
func (a *App) handleQRCodeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/qrcodes/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		code, err := a.store.GetQRCode(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			a.logger.Error("failed to load qr code", "id", id, "error", err)
			http.Error(w, "failed to load qr code", http.StatusInternalServerError)
			return
		}
		writeJSON(w, a.logger, code)

	case http.MethodPut:
		code, err := a.store.GetQRCode(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			a.logger.Error("failed to load qr code", "id", id, "error", err)
			http.Error(w, "failed to load qr code", http.StatusInternalServerError)
			return
		}

		var req struct {
			Location *string `json:"location"`
			Floor    *string `json:"floor"`
			Position *string `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		// Placement is editable; the printed payload is not.
		if req.Location != nil {
			code.Location = *req.Location
		}
		if req.Floor != nil {
			code.Floor = *req.Floor
		}
		if req.Position != nil {
			code.Position = *req.Position
		}

		if err := a.store.PutQRCode(ctx, code); err != nil {
			a.logger.Error("failed to update qr code", "id", id, "error", err)
			http.Error(w, "failed to update qr code", http.StatusInternalServerError)
			return
		}
		writeJSON(w, a.logger, code)

	case http.MethodDelete:
		if err := a.store.DeleteQRCode(ctx, id); err != nil {
			a.logger.Error("failed to delete qr code", "id", id, "error", err)
			http.Error(w, "failed to delete qr code", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFloorPlans lists the stored floor keys.
func (a *App) handleFloorPlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	plans, err := a.store.AllFloorPlans(ctx)
	if err != nil {
		a.logger.Error("failed to load floor plans", "error", err)
		http.Error(w, "failed to load floor plans", http.StatusInternalServerError)
		return
	}

	type entry struct {
		Floor     string    `json:"floor"`
		MIME      string    `json:"mime"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	entries := make([]entry, 0, len(plans))
	for _, plan := range plans {
		entries = append(entries, entry{Floor: plan.Floor, MIME: plan.Image.MIME, UpdatedAt: plan.UpdatedAt})
	}
	writeJSON(w, a.logger, struct {
		Plans []entry `json:"plans"`
	}{Plans: entries})
}

// handleFloorPlanByKey uploads and serves a floor's backdrop image.
func (a *App) handleFloorPlanByKey(w http.ResponseWriter, r *http.Request) {
	floor := strings.TrimPrefix(r.URL.Path, "/api/floorplans/")
	if floor == "" || strings.Contains(floor, "/") {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		plan, err := a.store.GetFloorPlan(ctx, floor)
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			a.logger.Error("failed to load floor plan", "floor", floor, "error", err)
			http.Error(w, "failed to load floor plan", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", plan.Image.MIME)
		_, _ = w.Write(plan.Image.Data)

	case http.MethodPut:
		data, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		if err != nil || len(data) == 0 {
			http.Error(w, "image body required", http.StatusBadRequest)
			return
		}
		mime := r.Header.Get("Content-Type")
		if mime == "" {
			mime = "application/octet-stream"
		}

		if err := a.store.PutFloorPlan(ctx, floor, model.Blob{MIME: mime, Data: data}); err != nil {
			a.logger.Error("failed to store floor plan", "floor", floor, "error", err)
			http.Error(w, "failed to store floor plan", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := a.store.DeleteFloorPlan(ctx, floor); err != nil {
			a.logger.Error("failed to delete floor plan", "floor", floor, "error", err)
			http.Error(w, "failed to delete floor plan", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// decodeRecord converts a migrated raw map into a typed record.
func decodeRecord(raw map[string]any) (model.InspectionRecord, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return model.InspectionRecord{}, fmt.Errorf("encode record: %w", err)
	}

	var rec model.InspectionRecord
	if err := json.Unmarshal(encoded, &rec); err != nil {
		return model.InspectionRecord{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.PanelNo == "" {
		return model.InspectionRecord{}, fmt.Errorf("record missing panel number")
	}
	return rec, nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
