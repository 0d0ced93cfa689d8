// Package store owns the embedded SQLite database holding the four durable
// collections: inspection records, photo blobs, QR-code definitions, and
// floor-plan images. Nothing outside this package touches the tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"panelscan/inspection-server/internal/model"

	_ "modernc.org/sqlite"
)

// SchemaVersion is bumped whenever a collection is added. Upgrades are
// additive only: a newer binary creates missing tables and leaves existing
// ones untouched.
const SchemaVersion = 2

// ErrUnavailable is returned by every operation against a store that was
// never opened or whose connection failed.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single-writer state; one connection avoids SQLite write contention.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures every collection exists. Safe on a fresh file and on a
// database created by an earlier schema version.
func (s *Store) InitSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_info (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inspections (
			panel_no TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_inspection TEXT NOT NULL,
			load_welder INTEGER NOT NULL DEFAULT 0,
			load_grinder INTEGER NOT NULL DEFAULT 0,
			load_light INTEGER NOT NULL DEFAULT 0,
			load_pump INTEGER NOT NULL DEFAULT 0,
			pos_x REAL,
			pos_y REAL,
			project_name TEXT,
			contractor TEXT,
			management_no TEXT,
			grounding TEXT,
			memo TEXT,
			notes TEXT,
			parent_panel TEXT,
			floor TEXT,
			transformer TEXT,
			conductor_size TEXT,
			inspectors TEXT,
			breakers TEXT,
			thermal TEXT,
			load_summary TEXT,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS photos (
			panel_no TEXT PRIMARY KEY,
			photo BLOB,
			photo_mime TEXT,
			thermal BLOB,
			thermal_mime TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS qr_codes (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			floor TEXT NOT NULL,
			position TEXT,
			qr_data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS floor_plans (
			floor TEXT PRIMARY KEY,
			image BLOB NOT NULL,
			mime TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_info (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version
		 WHERE excluded.version > schema_info.version;`,
		SchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return nil
}

// PutInspection inserts or overwrites the record for its panel number.
// Binary payloads are never stored here: photo and thermal data URLs are
// stripped so the photo collection stays the single source of image truth.
func (s *Store) PutInspection(ctx context.Context, rec model.InspectionRecord) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if rec.PanelNo == "" {
		return fmt.Errorf("panel number is required")
	}

	inspectors, err := marshalOrNull(rec.Inspectors)
	if err != nil {
		return fmt.Errorf("encode inspectors: %w", err)
	}
	breakers, err := marshalOrNull(rec.Breakers)
	if err != nil {
		return fmt.Errorf("encode breakers: %w", err)
	}
	thermal, err := marshalThermal(rec.Thermal)
	if err != nil {
		return fmt.Errorf("encode thermal block: %w", err)
	}
	loadSummary, err := marshalOrNull(rec.LoadSummary)
	if err != nil {
		return fmt.Errorf("encode load summary: %w", err)
	}

	var posX, posY sql.NullFloat64
	if rec.Position != nil {
		posX = sql.NullFloat64{Float64: rec.Position.X, Valid: true}
		posY = sql.NullFloat64{Float64: rec.Position.Y, Valid: true}
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO inspections (
			panel_no, status, last_inspection,
			load_welder, load_grinder, load_light, load_pump,
			pos_x, pos_y,
			project_name, contractor, management_no, grounding,
			memo, notes, parent_panel, floor, transformer, conductor_size,
			inspectors, breakers, thermal, load_summary,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(panel_no) DO UPDATE SET
			status = excluded.status,
			last_inspection = excluded.last_inspection,
			load_welder = excluded.load_welder,
			load_grinder = excluded.load_grinder,
			load_light = excluded.load_light,
			load_pump = excluded.load_pump,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			project_name = excluded.project_name,
			contractor = excluded.contractor,
			management_no = excluded.management_no,
			grounding = excluded.grounding,
			memo = excluded.memo,
			notes = excluded.notes,
			parent_panel = excluded.parent_panel,
			floor = excluded.floor,
			transformer = excluded.transformer,
			conductor_size = excluded.conductor_size,
			inspectors = excluded.inspectors,
			breakers = excluded.breakers,
			thermal = excluded.thermal,
			load_summary = excluded.load_summary,
			updated_at = excluded.updated_at;`,
		rec.PanelNo,
		string(rec.Status),
		rec.LastInspectionDate,
		boolToInt(rec.Loads.Welder),
		boolToInt(rec.Loads.Grinder),
		boolToInt(rec.Loads.Light),
		boolToInt(rec.Loads.Pump),
		posX,
		posY,
		nullIfEmpty(rec.ProjectName),
		nullIfEmpty(rec.Contractor),
		nullIfEmpty(rec.ManagementNo),
		nullIfEmpty(string(rec.Grounding)),
		nullIfEmpty(rec.Memo),
		nullIfEmpty(rec.Notes),
		nullIfEmpty(rec.ParentPanel),
		nullIfEmpty(rec.Floor),
		nullIfEmpty(rec.Transformer),
		nullIfEmpty(rec.ConductorSize),
		inspectors,
		breakers,
		thermal,
		loadSummary,
	)
	if err != nil {
		return fmt.Errorf("upsert inspection: %w", err)
	}

	return nil
}

const inspectionColumns = `panel_no, status, last_inspection,
	load_welder, load_grinder, load_light, load_pump,
	pos_x, pos_y,
	project_name, contractor, management_no, grounding,
	memo, notes, parent_panel, floor, transformer, conductor_size,
	inspectors, breakers, thermal, load_summary`

// GetInspection loads one record by panel number.
func (s *Store) GetInspection(ctx context.Context, panelNo string) (model.InspectionRecord, error) {
	if s == nil || s.db == nil {
		return model.InspectionRecord{}, ErrUnavailable
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+inspectionColumns+` FROM inspections WHERE panel_no = ?;`, panelNo)

	rec, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InspectionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.InspectionRecord{}, fmt.Errorf("get inspection: %w", err)
	}
	return rec, nil
}

// AllInspections returns every stored record ordered by panel number.
func (s *Store) AllInspections(ctx context.Context) ([]model.InspectionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inspectionColumns+` FROM inspections ORDER BY panel_no ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query inspections: %w", err)
	}
	defer rows.Close()

	var records []model.InspectionRecord
	for rows.Next() {
		rec, err := scanInspection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inspection: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inspections: %w", err)
	}

	return records, nil
}

// DeleteInspection removes a record and cascades the delete to its photo row.
func (s *Store) DeleteInspection(ctx context.Context, panelNo string) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM inspections WHERE panel_no = ?;`, panelNo); err != nil {
		return fmt.Errorf("delete inspection: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE panel_no = ?;`, panelNo); err != nil {
		return fmt.Errorf("delete inspection photos: %w", err)
	}
	return nil
}

// PutPhoto upserts the binary payloads for a panel. Passing nil for a slot
// clears that slot; passing nil for both deletes the row entirely, so the
// collection never holds empty placeholder records.
func (s *Store) PutPhoto(ctx context.Context, panelNo string, photo, thermal *model.Blob) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if panelNo == "" {
		return fmt.Errorf("panel number is required")
	}

	if photo == nil && thermal == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE panel_no = ?;`, panelNo); err != nil {
			return fmt.Errorf("delete photo record: %w", err)
		}
		return nil
	}

	var photoData, thermalData any
	var photoMIME, thermalMIME sql.NullString
	if photo != nil {
		photoData = photo.Data
		photoMIME = sql.NullString{String: photo.MIME, Valid: true}
	}
	if thermal != nil {
		thermalData = thermal.Data
		thermalMIME = sql.NullString{String: thermal.MIME, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO photos (panel_no, photo, photo_mime, thermal, thermal_mime, updated_at)
		 VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(panel_no) DO UPDATE SET
			photo = excluded.photo,
			photo_mime = excluded.photo_mime,
			thermal = excluded.thermal,
			thermal_mime = excluded.thermal_mime,
			updated_at = excluded.updated_at;`,
		panelNo,
		photoData,
		photoMIME,
		thermalData,
		thermalMIME,
	)
	if err != nil {
		return fmt.Errorf("upsert photo record: %w", err)
	}
	return nil
}

// GetPhoto returns the stored site photo for a panel, or nil when absent.
func (s *Store) GetPhoto(ctx context.Context, panelNo string) (*model.Blob, error) {
	return s.photoSlot(ctx, panelNo, "photo", "photo_mime")
}

// GetThermalImage returns the stored thermal image for a panel, or nil when absent.
func (s *Store) GetThermalImage(ctx context.Context, panelNo string) (*model.Blob, error) {
	return s.photoSlot(ctx, panelNo, "thermal", "thermal_mime")
}

func (s *Store) photoSlot(ctx context.Context, panelNo, dataCol, mimeCol string) (*model.Blob, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}

	var data []byte
	var mime sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+dataCol+`, `+mimeCol+` FROM photos WHERE panel_no = ?;`, panelNo,
	).Scan(&data, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo slot: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return &model.Blob{MIME: mime.String, Data: data}, nil
}

// AllPhotoPanels lists the panel numbers that currently hold a photo row.
func (s *Store) AllPhotoPanels(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `SELECT panel_no FROM photos ORDER BY panel_no ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query photo panels: %w", err)
	}
	defer rows.Close()

	var panels []string
	for rows.Next() {
		var panelNo string
		if err := rows.Scan(&panelNo); err != nil {
			return nil, fmt.Errorf("scan photo panel: %w", err)
		}
		panels = append(panels, panelNo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo panels: %w", err)
	}
	return panels, nil
}

// PutQRCode inserts or overwrites a QR-code definition.
func (s *Store) PutQRCode(ctx context.Context, code model.QRCodeData) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if code.ID == "" {
		return fmt.Errorf("qr code id is required")
	}

	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO qr_codes (id, location, floor, position, qr_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			location = excluded.location,
			floor = excluded.floor,
			position = excluded.position,
			qr_data = excluded.qr_data;`,
		code.ID,
		code.Location,
		code.Floor,
		nullIfEmpty(code.Position),
		code.QRData,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert qr code: %w", err)
	}
	return nil
}

// GetQRCode loads one QR-code definition by id.
func (s *Store) GetQRCode(ctx context.Context, id string) (model.QRCodeData, error) {
	if s == nil || s.db == nil {
		return model.QRCodeData{}, ErrUnavailable
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, location, floor, position, qr_data, created_at FROM qr_codes WHERE id = ?;`, id)

	code, err := scanQRCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QRCodeData{}, ErrNotFound
	}
	if err != nil {
		return model.QRCodeData{}, fmt.Errorf("get qr code: %w", err)
	}
	return code, nil
}

// AllQRCodes returns every stored QR-code definition, newest first.
func (s *Store) AllQRCodes(ctx context.Context) ([]model.QRCodeData, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location, floor, position, qr_data, created_at FROM qr_codes ORDER BY created_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("query qr codes: %w", err)
	}
	defer rows.Close()

	var codes []model.QRCodeData
	for rows.Next() {
		code, err := scanQRCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qr code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qr codes: %w", err)
	}
	return codes, nil
}

// DeleteQRCode removes a QR-code definition.
func (s *Store) DeleteQRCode(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM qr_codes WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete qr code: %w", err)
	}
	return nil
}

// PutFloorPlan stores or replaces the backdrop image for a floor key.
func (s *Store) PutFloorPlan(ctx context.Context, floor string, image model.Blob) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if floor == "" {
		return fmt.Errorf("floor key is required")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO floor_plans (floor, image, mime, updated_at)
		 VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(floor) DO UPDATE SET
			image = excluded.image,
			mime = excluded.mime,
			updated_at = excluded.updated_at;`,
		floor,
		image.Data,
		image.MIME,
	)
	if err != nil {
		return fmt.Errorf("upsert floor plan: %w", err)
	}
	return nil
}

// GetFloorPlan loads the backdrop image for a floor key.
func (s *Store) GetFloorPlan(ctx context.Context, floor string) (model.FloorPlan, error) {
	if s == nil || s.db == nil {
		return model.FloorPlan{}, ErrUnavailable
	}

	var plan model.FloorPlan
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT floor, image, mime, updated_at FROM floor_plans WHERE floor = ?;`, floor,
	).Scan(&plan.Floor, &plan.Image.Data, &plan.Image.MIME, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FloorPlan{}, ErrNotFound
	}
	if err != nil {
		return model.FloorPlan{}, fmt.Errorf("get floor plan: %w", err)
	}
	plan.UpdatedAt = parseStoredTime(updatedAt)
	return plan, nil
}

// AllFloorPlans lists every stored floor key with its update timestamp. The
// image payloads are omitted; callers fetch them per floor.
func (s *Store) AllFloorPlans(ctx context.Context) ([]model.FloorPlan, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `SELECT floor, mime, updated_at FROM floor_plans ORDER BY floor ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query floor plans: %w", err)
	}
	defer rows.Close()

	var plans []model.FloorPlan
	for rows.Next() {
		var plan model.FloorPlan
		var updatedAt string
		if err := rows.Scan(&plan.Floor, &plan.Image.MIME, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan floor plan: %w", err)
		}
		plan.UpdatedAt = parseStoredTime(updatedAt)
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate floor plans: %w", err)
	}
	return plans, nil
}

// DeleteFloorPlan removes the backdrop image for a floor key.
func (s *Store) DeleteFloorPlan(ctx context.Context, floor string) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM floor_plans WHERE floor = ?;`, floor); err != nil {
		return fmt.Errorf("delete floor plan: %w", err)
	}
	return nil
}
