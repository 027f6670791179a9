// Package api exposes the JSON HTTP surface for querying sensors, fused
// readings and anomaly events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/eventdb"
)

type Server struct {
	engine *engine.Engine
	db     *eventdb.DB
}

func NewServer(eng *engine.Engine, db *eventdb.DB) *Server {
	return &Server{
		engine: eng,
		db:     db,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Coldwatch stream fusion server\n"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensors", s.listSensors)
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/status", s.engineStatus)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids, err := s.db.SensorIDs()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list sensors: %v", err), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, ids)
}

// listReadings returns fused readings for one sensor.
// Query params:
//
//	sensor_id (required)
//	start, end (optional RFC3339; default last 24h)
func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		http.Error(w, "missing 'sensor_id' parameter", http.StatusBadRequest)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad 'start' parameter: %v", err), http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad 'end' parameter: %v", err), http.StatusBadRequest)
			return
		}
		end = t
	}

	readings, err := s.db.ReadingsBetween(sensorID, start, end)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve readings: %v", err), http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []engine.Reading{}
	}
	s.writeJSON(w, readings)
}

// listEvents returns anomaly events, either for one sensor (sensor_id param,
// ascending) or the most recent across all sensors (limit param, default 50).
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		events []engine.AnomalyEvent
		err    error
	)
	if sensorID := r.URL.Query().Get("sensor_id"); sensorID != "" {
		events, err = s.db.EventsForSensor(sensorID)
	} else {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, perr := strconv.Atoi(l); perr == nil && v > 0 && v <= 1000 {
				limit = v
			}
		}
		events, err = s.db.RecentEvents(limit)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve events: %v", err), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []engine.AnomalyEvent{}
	}
	s.writeJSON(w, events)
}

// engineStatus reports the live fusion state of every active pipeline.
func (s *Server) engineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"sensors":  s.engine.Status(),
		"counters": s.engine.Counters(),
	})
}
