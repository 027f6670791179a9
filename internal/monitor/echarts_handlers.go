package monitor

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTemperatureChart renders an HTML line chart of a sensor's fused
// readings with anomaly events highlighted as shaded spans. This is a
// debugging-only endpoint (no auth) for visual inspection without a UI build.
// Query params:
//
//	sensor_id (required)
//	hours (optional; default 24) lookback window
func (ws *WebServer) handleTemperatureChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured")
		return
	}
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'sensor_id' parameter")
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 && v <= 24*30 {
			hours = v
		}
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	readings, err := ws.db.ReadingsBetween(sensorID, from, to)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load readings: %v", err))
		return
	}
	if len(readings) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no readings in window")
		return
	}

	xAxis := make([]string, 0, len(readings))
	temps := make([]opts.LineData, 0, len(readings))
	for _, rd := range readings {
		xAxis = append(xAxis, rd.Timestamp.Format("01-02 15:04"))
		if rd.Gap {
			// Break the line across synthetic gap markers.
			temps = append(temps, opts.LineData{Value: nil})
		} else {
			temps = append(temps, opts.LineData{Value: rd.Temperature})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Coldwatch Temperature", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Temperature: %s", sensorID), Subtitle: fmt.Sprintf("last %dh, %d readings", hours, len(readings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "°C"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("temperature", temps, charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}))

	events, err := ws.db.EventsForSensor(sensorID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load events: %v", err))
		return
	}
	var spans []charts.SeriesOpts
	for _, ev := range events {
		end := to
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		if end.Before(from) || ev.StartTime.After(to) {
			continue
		}
		spans = append(spans, charts.WithMarkAreaNameCoordItemOpts(opts.MarkAreaNameCoordItem{
			Name:        string(ev.Classification),
			Coordinate0: []interface{}{ev.StartTime.Format("01-02 15:04")},
			Coordinate1: []interface{}{end.Format("01-02 15:04")},
			ItemStyle:   &opts.ItemStyle{Color: "rgba(255, 82, 82, 0.25)"},
		}))
	}
	if len(spans) > 0 {
		line.SetSeriesOptions(spans...)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleChartIndex renders a minimal index page linking to the per-sensor
// temperature charts.
func (ws *WebServer) handleChartIndex(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured")
		return
	}
	ids, err := ws.db.SensorIDs()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sensors: %v", err))
		return
	}

	var buf bytes.Buffer
	buf.WriteString("<html><head><title>Coldwatch charts</title></head><body>")
	buf.WriteString("<h1>Sensor charts</h1><ul>")
	for _, id := range ids {
		esc := html.EscapeString(id)
		fmt.Fprintf(&buf, `<li><a href="/debug/charts/temperature?sensor_id=%s">%s</a></li>`, esc, esc)
	}
	buf.WriteString("</ul></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
