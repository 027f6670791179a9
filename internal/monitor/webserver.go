// Package monitor provides the debug web interface: engine status, per-sensor
// temperature summaries and rendered charts of fused readings and anomaly
// events.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/eventdb"
	"github.com/banshee-data/coldwatch/internal/monitoring"
)

// WebServer handles the HTTP interface for monitoring the fusion engine.
type WebServer struct {
	address string
	engine  *engine.Engine
	db      *eventdb.DB
	server  *http.Server
	started time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Engine  *engine.Engine
	DB      *eventdb.DB
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		engine:  config.Engine,
		db:      config.DB,
		started: time.Now(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and shuts it down when the
// context is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}

	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// Handler exposes the route mux so callers can mount additional routes
// (admin debug endpoints) before starting the server.
func (ws *WebServer) Handler() *http.ServeMux {
	return ws.server.Handler.(*http.ServeMux)
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/monitor/status", ws.handleStatus)
	mux.HandleFunc("/api/monitor/summary", ws.handleSummary)
	mux.HandleFunc("/debug/charts/temperature", ws.handleTemperatureChart)
	mux.HandleFunc("/debug/charts", ws.handleChartIndex)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(ws.started).Seconds()),
	})
}

// handleStatus returns the engine's live per-sensor status snapshots.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if ws.engine == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sensors":  ws.engine.Status(),
		"counters": ws.engine.Counters(),
	})
}

// SensorSummary describes the recent temperature distribution of one sensor.
type SensorSummary struct {
	SensorID     string  `json:"sensor_id"`
	SampleCount  int     `json:"sample_count"`
	Mean         float64 `json:"mean_c"`
	StdDev       float64 `json:"std_dev_c"`
	Min          float64 `json:"min_c"`
	Median       float64 `json:"median_c"`
	P95          float64 `json:"p95_c"`
	Max          float64 `json:"max_c"`
	OpenEvents   int     `json:"open_events"`
	ClosedEvents int     `json:"closed_events"`
}

// handleSummary computes per-sensor distribution summaries over the most
// recent stored readings.
// Query params:
//
//	limit (optional, default 500) readings per sensor
func (ws *WebServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured")
		return
	}
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > 10000 {
			limit = 500
		}
	}

	ids, err := ws.db.SensorIDs()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sensors: %v", err))
		return
	}

	var summaries []SensorSummary
	for _, id := range ids {
		readings, err := ws.db.RecentReadings(id, limit)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("readings for %s: %v", id, err))
			return
		}
		var temps []float64
		for _, rd := range readings {
			if !rd.Gap {
				temps = append(temps, rd.Temperature)
			}
		}
		s := SensorSummary{SensorID: id, SampleCount: len(temps)}
		if len(temps) > 0 {
			sort.Float64s(temps)
			s.Mean = stat.Mean(temps, nil)
			if len(temps) > 1 {
				s.StdDev = stat.StdDev(temps, nil)
			}
			s.Min = temps[0]
			s.Max = temps[len(temps)-1]
			s.Median = stat.Quantile(0.5, stat.Empirical, temps, nil)
			s.P95 = stat.Quantile(0.95, stat.Empirical, temps, nil)
		}
		events, err := ws.db.EventsForSensor(id)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("events for %s: %v", id, err))
			return
		}
		for _, ev := range events {
			if ev.Closed() {
				s.ClosedEvents++
			} else {
				s.OpenEvents++
			}
		}
		summaries = append(summaries, s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}
