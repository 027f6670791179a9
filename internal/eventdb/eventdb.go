// Package eventdb persists fused readings and anomaly events to SQLite for
// reporting, replay and the debug dashboard. It is an external consumer of
// the engine's output; the engine itself owns no disk state.
package eventdb

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/monitoring"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the event database. The base schema is
// applied inline so ad-hoc tools work without the migrations directory;
// MigrateUp applies any later schema revisions.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			sensor_id         TEXT NOT NULL,
			ts_unix           INTEGER NOT NULL,
			temperature       REAL,
			source            TEXT,
			is_gap            INTEGER NOT NULL DEFAULT 0,
			annotations       TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts_unix);
		CREATE TABLE IF NOT EXISTS anomaly_events (
			event_id          TEXT PRIMARY KEY,
			sensor_id         TEXT NOT NULL,
			start_unix        INTEGER NOT NULL,
			end_unix          INTEGER,
			peak_temperature  REAL,
			classification    TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_sensor_start ON anomaly_events(sensor_id, start_unix);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply base schema: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// RecordReading appends one fused reading.
func (db *DB) RecordReading(r engine.Reading) error {
	anns := make([]string, len(r.Annotations))
	for i, a := range r.Annotations {
		anns[i] = string(a)
	}

	var temp interface{}
	if !r.Gap {
		temp = r.Temperature
	}
	_, err := db.Exec(
		`INSERT INTO readings (sensor_id, ts_unix, temperature, source, is_gap, annotations) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SensorID, r.Timestamp.Unix(), temp, string(r.Source), boolToInt(r.Gap), strings.Join(anns, ","),
	)
	if err != nil {
		return fmt.Errorf("record reading: %w", err)
	}
	return nil
}

// RecordEvent inserts or updates an anomaly event. Open and closed emissions
// of the same event share an ID, so the close simply overwrites the open row.
func (db *DB) RecordEvent(ev engine.AnomalyEvent) error {
	var end interface{}
	if ev.EndTime != nil {
		end = ev.EndTime.Unix()
	}
	_, err := db.Exec(`
		INSERT INTO anomaly_events (event_id, sensor_id, start_unix, end_unix, peak_temperature, classification)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			end_unix = excluded.end_unix,
			peak_temperature = excluded.peak_temperature,
			classification = excluded.classification`,
		ev.ID.String(), ev.SensorID, ev.StartTime.Unix(), end, ev.PeakTemperature, string(ev.Classification),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// SensorIDs lists all sensors with recorded readings.
func (db *DB) SensorIDs() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT sensor_id FROM readings ORDER BY sensor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReadingsBetween returns a sensor's fused readings in [from, to], ascending.
func (db *DB) ReadingsBetween(sensorID string, from, to time.Time) ([]engine.Reading, error) {
	rows, err := db.Query(`
		SELECT ts_unix, temperature, source, is_gap, annotations
		FROM readings
		WHERE sensor_id = ? AND ts_unix BETWEEN ? AND ?
		ORDER BY ts_unix ASC`,
		sensorID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(sensorID, rows)
}

// RecentReadings returns up to limit most recent readings for a sensor,
// ascending.
func (db *DB) RecentReadings(sensorID string, limit int) ([]engine.Reading, error) {
	rows, err := db.Query(`
		SELECT ts_unix, temperature, source, is_gap, annotations
		FROM (
			SELECT ts_unix, temperature, source, is_gap, annotations
			FROM readings WHERE sensor_id = ?
			ORDER BY ts_unix DESC LIMIT ?
		) ORDER BY ts_unix ASC`,
		sensorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(sensorID, rows)
}

func scanReadings(sensorID string, rows *sql.Rows) ([]engine.Reading, error) {
	var readings []engine.Reading
	for rows.Next() {
		var (
			tsUnix int64
			temp   sql.NullFloat64
			src    string
			isGap  int
			anns   string
		)
		if err := rows.Scan(&tsUnix, &temp, &src, &isGap, &anns); err != nil {
			return nil, err
		}
		r := engine.Reading{
			SensorID:  sensorID,
			Timestamp: time.Unix(tsUnix, 0).UTC(),
			Source:    engine.Source(src),
			Gap:       isGap != 0,
		}
		if temp.Valid {
			r.Temperature = temp.Float64
		}
		if anns != "" {
			for _, a := range strings.Split(anns, ",") {
				r.Annotations = append(r.Annotations, engine.Annotation(a))
			}
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// EventsForSensor returns a sensor's anomaly events ascending by start time.
func (db *DB) EventsForSensor(sensorID string) ([]engine.AnomalyEvent, error) {
	rows, err := db.Query(`
		SELECT event_id, sensor_id, start_unix, end_unix, peak_temperature, classification
		FROM anomaly_events WHERE sensor_id = ? ORDER BY start_unix ASC`, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns up to limit most recently started events across all
// sensors, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.AnomalyEvent, error) {
	rows, err := db.Query(`
		SELECT event_id, sensor_id, start_unix, end_unix, peak_temperature, classification
		FROM anomaly_events ORDER BY start_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]engine.AnomalyEvent, error) {
	var events []engine.AnomalyEvent
	for rows.Next() {
		var (
			id        string
			sensorID  string
			startUnix int64
			endUnix   sql.NullInt64
			peak      float64
			class     string
		)
		if err := rows.Scan(&id, &sensorID, &startUnix, &endUnix, &peak, &class); err != nil {
			return nil, err
		}
		eventID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad event id %q: %w", id, err)
		}
		ev := engine.AnomalyEvent{
			ID:              eventID,
			SensorID:        sensorID,
			StartTime:       time.Unix(startUnix, 0).UTC(),
			PeakTemperature: peak,
			Classification:  engine.EventClassification(class),
		}
		if endUnix.Valid {
			end := time.Unix(endUnix.Int64, 0).UTC()
			ev.EndTime = &end
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AttachAdminRoutes mounts the tsweb debugger with a live tailSQL console
// over the event database.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Coldwatch event DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the event database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("coldwatch-backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
	}))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
