package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelscan/inspection-server/internal/config"
	"panelscan/inspection-server/internal/model"
	"panelscan/inspection-server/internal/recon"
	"panelscan/inspection-server/internal/seed"
	"panelscan/inspection-server/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	a := &App{
		cfg:    config.Config{HTTPPort: 8080},
		logger: logger,
		store:  db,
		engine: recon.New(db, seed.Topology(), logger),
		hub:    newWSHub(logger),
	}
	a.engine.LoadWorkingSet(context.Background())
	return a
}

func decodePanels(t *testing.T, body io.Reader) []model.InspectionRecord {
	t.Helper()
	var resp panelsResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp.Panels
}

func TestPanelsEndpointServesWorkingSet(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/panels")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	panels := decodePanels(t, resp.Body)
	assert.Len(t, panels, len(seed.PanelNos()))
}

func TestScanEndpointUpdatesPanel(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	body := strings.NewReader(`{"payload":"{\"panelNo\":\"3-1\",\"contractor\":\"한빛전기\"}"}`)
	resp, err := http.Post(srv.URL+"/api/scan", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scanResp struct {
		Kind  string                 `json:"kind"`
		Panel model.InspectionRecord `json:"panel"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scanResp))
	assert.Equal(t, "update_existing", scanResp.Kind)
	assert.Equal(t, "3-1", scanResp.Panel.PanelNo)
	assert.Equal(t, "한빛전기", scanResp.Panel.Contractor)

	// The update is visible in the working set.
	for _, rec := range a.engine.WorkingSet() {
		if rec.PanelNo == "3-1" {
			assert.Equal(t, "한빛전기", rec.Contractor)
			return
		}
	}
	t.Fatal("panel 3-1 missing from working set")
}

func TestScanEndpointAcceptsRawBody(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/scan", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scanResp struct {
		Kind  string                 `json:"kind"`
		Panel model.InspectionRecord `json:"panel"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scanResp))
	assert.Equal(t, "create_new", scanResp.Kind)
	assert.Equal(t, "1층-미지정", scanResp.Panel.PanelNo)
}

func TestConcurrentScansAllApplied(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	panels := []string{"1", "2", "3", "4", "5"}
	var wg sync.WaitGroup
	for _, no := range panels {
		wg.Add(1)
		go func(no string) {
			defer wg.Done()
			a.applyScan(ctx, `{"panelNo":"`+no+`","contractor":"시공사-`+no+`"}`)
		}(no)
	}
	wg.Wait()

	// No scan may be lost to a stale working-set snapshot.
	byNo := make(map[string]model.InspectionRecord)
	for _, rec := range a.engine.WorkingSet() {
		byNo[rec.PanelNo] = rec
	}
	for _, no := range panels {
		assert.Equal(t, "시공사-"+no, byNo[no].Contractor, "panel %s lost its scan", no)
	}
}

func TestReconcileEndpointMigratesLegacyRecords(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	body := strings.NewReader(`[
		{"panelId":"1","status":"complete","floor":"중층"},
		{"panelNo":"2","status":"in_progress"}
	]`)
	resp, err := http.Post(srv.URL+"/api/panels/reconcile", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	panels := decodePanels(t, resp.Body)
	require.Len(t, panels, 2)

	assert.Equal(t, "1", panels[0].PanelNo)
	assert.Equal(t, model.StatusComplete, panels[0].Status)
	assert.Equal(t, "1.5층", panels[0].Floor)
}

func TestReconcileEndpointRejectsMalformedBody(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/panels/reconcile", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReconcileEndpointSkipsKeylessRecords(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	// A record with neither key migrates to the UNKNOWN sentinel and still
	// imports; only a structurally undecodable record is skipped.
	body := strings.NewReader(`[{"panelNo":"1","status":"pending"},{"panelNo":"2","status":123}]`)
	resp, err := http.Post(srv.URL+"/api/panels/reconcile", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Panels  []model.InspectionRecord `json:"panels"`
		Skipped int                      `json:"skipped"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Len(t, result.Panels, 1)
	assert.Equal(t, 1, result.Skipped)
}

func TestReportRequiresCompleteStatus(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/panels/1/report")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Complete the panel, then the report renders.
	working := a.engine.WorkingSet()
	for i := range working {
		if working[i].PanelNo == "1" {
			working[i].Status = model.StatusComplete
			working[i].LastInspectionDate = "2026-03-14 09:30"
			working[i].Inspectors = []string{"김점검"}
		}
	}
	a.engine.Reconcile(context.Background(), working)

	resp, err = http.Get(srv.URL + "/api/panels/1/report")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report-1.html")

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "분전반 점검 보고서")
	assert.Contains(t, string(page), "김점검")
}

func TestReportUnknownPanel(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/panels/nope/report")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQRCodeLifecycle(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	createBody := strings.NewReader(`{"location":"기계실","floor":"1층","panelNo":"1"}`)
	resp, err := http.Post(srv.URL+"/api/qrcodes", "application/json", createBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created model.QRCodeData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	// The frozen payload embeds the panel reference.
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(created.QRData), &payload))
	assert.Equal(t, "1", payload["panelNo"])
	assert.Equal(t, created.ID, payload["id"])

	// Reposition without touching the printed payload.
	putBody := strings.NewReader(`{"location":"전기실"}`)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/qrcodes/"+created.ID, putBody)
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	var updated model.QRCodeData
	require.NoError(t, json.NewDecoder(putResp.Body).Decode(&updated))
	assert.Equal(t, "전기실", updated.Location)
	assert.Equal(t, created.QRData, updated.QRData)

	// Delete, then gone.
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/qrcodes/"+created.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err := http.Get(srv.URL + "/api/qrcodes/" + created.ID)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestFloorPlanUploadAndFetch(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/floorplans/1F", strings.NewReader("plan-bytes"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "image/png")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/api/floorplans/1F")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "image/png", getResp.Header.Get("Content-Type"))

	data, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "plan-bytes", string(data))
}

func TestDecodeRecordRequiresPanelNo(t *testing.T) {
	_, err := decodeRecord(map[string]any{"status": "pending"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel number")
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
