package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"aala/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  startedAt TEXT NOT NULL,
  finishedAt TEXT NOT NULL,
  summaryJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS file_reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  file TEXT NOT NULL,
  modelYear INTEGER NOT NULL,
  status TEXT NOT NULL,
  error TEXT,
  reportJson TEXT NOT NULL,
  UNIQUE(runId, file),
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  file TEXT NOT NULL,
  modelYear INTEGER NOT NULL,
  page INTEGER NOT NULL,
  rowNo INTEGER NOT NULL,
  manufacturer TEXT NOT NULL,
  carLine TEXT,
  vehicleType TEXT,
  engineName TEXT,
  engineCode TEXT,
  engineResolution TEXT NOT NULL,
  transmissionName TEXT,
  transmissionCode TEXT,
  transmissionResolution TEXT NOT NULL,
  assemblyName TEXT,
  assemblyCode TEXT,
  assemblyResolution TEXT NOT NULL,
  assemblyCity TEXT,
  usCanadaPct TEXT,
  sourcesJson TEXT NOT NULL,
  UNIQUE(runId, file, page, rowNo),
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(runId);
CREATE INDEX IF NOT EXISTS idx_records_manufacturer ON records(manufacturer);

CREATE TABLE IF NOT EXISTS rejections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  file TEXT NOT NULL,
  modelYear INTEGER NOT NULL,
  page INTEGER NOT NULL,
  rowNo INTEGER NOT NULL,
  stage TEXT NOT NULL,
  kind TEXT NOT NULL,
  reason TEXT,
  text TEXT NOT NULL,
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(runId);

CREATE TABLE IF NOT EXISTS input_files (
  path TEXT PRIMARY KEY,
  sha256 TEXT NOT NULL,
  lastRunId TEXT,
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

type storedSource struct {
	Name       string              `json:"name,omitempty"`
	Code       string              `json:"code,omitempty"`
	Resolution internal.Resolution `json:"resolution"`
	Percent    string              `json:"percent,omitempty"`
}

// SaveRun stores the report, its dataset and its rejections in one
// transaction. Saving the same run id again replaces the earlier copy.
func (d *DB) SaveRun(report internal.RunReport, ds internal.Dataset) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"records", "rejections", "file_reports"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE runId = ?`, report.RunID); err != nil {
			return err
		}
	}

	summaryJSON, _ := json.Marshal(report.Summary)
	if _, err := tx.Exec(`
INSERT INTO runs (id, startedAt, finishedAt, summaryJson) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  startedAt=excluded.startedAt,
  finishedAt=excluded.finishedAt,
  summaryJson=excluded.summaryJson
`, report.RunID, report.StartedAt.UTC().Format(time.RFC3339Nano), report.FinishedAt.UTC().Format(time.RFC3339Nano), string(summaryJSON)); err != nil {
		return err
	}

	for _, fr := range report.Files {
		blob, _ := json.Marshal(fr)
		if _, err := tx.Exec(`
INSERT INTO file_reports (runId, file, modelYear, status, error, reportJson) VALUES (?, ?, ?, ?, ?, ?)
`, report.RunID, fr.File, fr.ModelYear, fr.Status, nullString(fr.Error), string(blob)); err != nil {
			return err
		}
	}

	recStmt, err := tx.Prepare(`
INSERT INTO records (
  runId, file, modelYear, page, rowNo, manufacturer, carLine, vehicleType,
  engineName, engineCode, engineResolution,
  transmissionName, transmissionCode, transmissionResolution,
  assemblyName, assemblyCode, assemblyResolution, assemblyCity,
  usCanadaPct, sourcesJson
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer recStmt.Close()

	for _, r := range ds.Records {
		sources := make([]storedSource, 0, len(r.Sources))
		for _, s := range r.Sources {
			sources = append(sources, storedSource{Name: s.Country.Name, Code: s.Country.Code, Resolution: s.Country.Resolution, Percent: s.Percent.String()})
		}
		sourcesJSON, _ := json.Marshal(sources)
		if _, err := recStmt.Exec(
			report.RunID, r.Provenance.File, r.ModelYear, r.Provenance.Page, r.Provenance.Row, r.Manufacturer, r.CarLine, r.VehicleType,
			nullString(r.EngineOrigin.Name), nullString(r.EngineOrigin.Code), string(r.EngineOrigin.Resolution),
			nullString(r.TransmissionOrigin.Name), nullString(r.TransmissionOrigin.Code), string(r.TransmissionOrigin.Resolution),
			nullString(r.AssemblyCountry.Name), nullString(r.AssemblyCountry.Code), string(r.AssemblyCountry.Resolution), r.AssemblyCity,
			nullString(r.USCanadaContent.String()), string(sourcesJSON),
		); err != nil {
			return fmt.Errorf("insert record %s p%d r%d: %w", r.Provenance.File, r.Provenance.Page, r.Provenance.Row, err)
		}
	}

	rejStmt, err := tx.Prepare(`
INSERT INTO rejections (runId, file, modelYear, page, rowNo, stage, kind, reason, text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer rejStmt.Close()

	for _, rej := range report.Rejections {
		if _, err := rejStmt.Exec(
			report.RunID, rej.Provenance.File, rej.Provenance.ModelYear, rej.Provenance.Page, rej.Provenance.Row,
			string(rej.Stage), rej.Kind, nullString(rej.Reason), rej.Text,
		); err != nil {
			return err
		}
	}

	if err := setMetadata(tx, "runs.latest", report.RunID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadDataset returns the records of a run in dataset order.
func (d *DB) LoadDataset(runID string) (internal.Dataset, error) {
	rows, err := d.conn.Query(`
SELECT file, modelYear, page, rowNo, manufacturer, carLine, vehicleType,
       engineName, engineCode, engineResolution,
       transmissionName, transmissionCode, transmissionResolution,
       assemblyName, assemblyCode, assemblyResolution, assemblyCity,
       usCanadaPct, sourcesJson
FROM records WHERE runId = ?
ORDER BY modelYear, file, page, rowNo
`, runID)
	if err != nil {
		return internal.Dataset{}, err
	}
	defer rows.Close()

	var ds internal.Dataset
	for rows.Next() {
		var r internal.VehicleRecord
		var engine, transmission, assembly countryColumns
		var pct sql.NullString
		var sourcesJSON string
		if err := rows.Scan(
			&r.Provenance.File, &r.ModelYear, &r.Provenance.Page, &r.Provenance.Row, &r.Manufacturer, &r.CarLine, &r.VehicleType,
			&engine.name, &engine.code, &engine.resolution,
			&transmission.name, &transmission.code, &transmission.resolution,
			&assembly.name, &assembly.code, &assembly.resolution, &r.AssemblyCity,
			&pct, &sourcesJSON,
		); err != nil {
			return internal.Dataset{}, err
		}
		r.Provenance.ModelYear = r.ModelYear
		r.EngineOrigin = engine.country()
		r.TransmissionOrigin = transmission.country()
		r.AssemblyCountry = assembly.country()
		r.USCanadaContent = parseStoredPercent(pct)

		var sources []storedSource
		if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
			return internal.Dataset{}, fmt.Errorf("decode sources: %w", err)
		}
		for _, s := range sources {
			r.Sources = append(r.Sources, internal.SourceShare{
				Country: internal.Country{Name: s.Name, Code: s.Code, Resolution: s.Resolution},
				Percent: parseStoredPercent(sql.NullString{String: s.Percent, Valid: s.Percent != ""}),
			})
		}
		ds.Records = append(ds.Records, r)
	}
	return ds, rows.Err()
}

func (d *DB) LoadRejections(runID string) ([]internal.Rejection, error) {
	rows, err := d.conn.Query(`
SELECT file, modelYear, page, rowNo, stage, kind, reason, text
FROM rejections WHERE runId = ?
ORDER BY modelYear, file, page, rowNo, id
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Rejection
	for rows.Next() {
		var rej internal.Rejection
		var stage string
		var reason sql.NullString
		if err := rows.Scan(&rej.Provenance.File, &rej.Provenance.ModelYear, &rej.Provenance.Page, &rej.Provenance.Row, &stage, &rej.Kind, &reason, &rej.Text); err != nil {
			return nil, err
		}
		rej.Stage = internal.RejectionStage(stage)
		rej.Reason = reason.String
		out = append(out, rej)
	}
	return out, rows.Err()
}

func (d *DB) LoadFileReports(runID string) ([]internal.FileReport, error) {
	rows, err := d.conn.Query(`SELECT reportJson FROM file_reports WHERE runId = ? ORDER BY file`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.FileReport
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var fr internal.FileReport
		if err := json.Unmarshal([]byte(blob), &fr); err != nil {
			return nil, fmt.Errorf("decode file report: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// LatestRunID returns nil when no run was saved yet.
func (d *DB) LatestRunID() (*string, error) {
	return d.GetMetadata("runs.latest")
}

// Fingerprints returns the last recorded sha256 per input path.
func (d *DB) Fingerprints() (map[string]string, error) {
	rows, err := d.conn.Query(`SELECT path, sha256 FROM input_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var path, sum string
		if err := rows.Scan(&path, &sum); err != nil {
			return nil, err
		}
		out[path] = sum
	}
	return out, rows.Err()
}

// ReplaceFingerprints makes the stored set equal to fingerprints.
func (d *DB) ReplaceFingerprints(fingerprints map[string]string, runID string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM input_files`); err != nil {
		return err
	}
	for path, sum := range fingerprints {
		if _, err := tx.Exec(`INSERT INTO input_files (path, sha256, lastRunId) VALUES (?, ?, ?)`, path, sum, nullString(runID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) SetMetadata(key, value string) error {
	return setMetadata(d.conn, key, value)
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setMetadata(x execer, key, value string) error {
	_, err := x.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

type countryColumns struct {
	name       sql.NullString
	code       sql.NullString
	resolution string
}

func (c countryColumns) country() internal.Country {
	return internal.Country{Name: c.name.String, Code: c.code.String, Resolution: internal.Resolution(c.resolution)}
}

func parseStoredPercent(v sql.NullString) internal.Percent {
	if !v.Valid || v.String == "" {
		return internal.Percent{}
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return internal.Percent{}
	}
	return internal.Percent{Value: d, Valid: true}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
