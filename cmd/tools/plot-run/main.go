// Command plot-run renders PNG charts of fused temperature traces from an
// event database, one file per sensor, with anomaly events overlaid as
// shaded spans. Useful for offline inspection of a completed run without
// starting the web server.
//
// Usage:
//
//	go run ./cmd/tools/plot-run [flags]
//
// Flags:
//
//	-db       Event database path (default: coldwatch.db)
//	-out      Output directory for PNG files (default: .)
//	-hours    Lookback window in hours (default: 24)
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coldwatch/internal/eventdb"
)

func main() {
	dbFile := flag.String("db", "coldwatch.db", "Event database path")
	outDir := flag.String("out", ".", "Output directory for PNG files")
	hours := flag.Int("hours", 24, "Lookback window in hours")
	flag.Parse()

	db, err := eventdb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open event database: %v", err)
	}
	defer db.Close()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	ids, err := db.SensorIDs()
	if err != nil {
		log.Fatalf("Failed to list sensors: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("No sensors in database")
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(*hours) * time.Hour)

	for _, id := range ids {
		outFile := filepath.Join(*outDir, fmt.Sprintf("%s.png", id))
		if err := plotSensor(db, id, from, to, outFile); err != nil {
			log.Printf("Failed to plot %s: %v", id, err)
			continue
		}
		log.Printf("Wrote %s", outFile)
	}
}

func plotSensor(db *eventdb.DB, sensorID string, from, to time.Time, outFile string) error {
	readings, err := db.ReadingsBetween(sensorID, from, to)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return fmt.Errorf("no readings in window")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Temperature: %s", sensorID)
	p.X.Label.Text = "time"
	p.Y.Label.Text = "°C"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}

	// Split the trace at gap markers so missing spans stay visually open.
	var segments []plotter.XYs
	var cur plotter.XYs
	for _, r := range readings {
		if r.Gap {
			if len(cur) > 0 {
				segments = append(segments, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(r.Timestamp.Unix()), Y: r.Temperature})
	}
	if len(cur) > 0 {
		segments = append(segments, cur)
	}

	minY, maxY := readings[0].Temperature, readings[0].Temperature
	for _, r := range readings {
		if r.Gap {
			continue
		}
		if r.Temperature < minY {
			minY = r.Temperature
		}
		if r.Temperature > maxY {
			maxY = r.Temperature
		}
	}

	events, err := db.EventsForSensor(sensorID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		end := to
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		if end.Before(from) || ev.StartTime.After(to) {
			continue
		}
		span := plotter.XYs{
			{X: float64(ev.StartTime.Unix()), Y: minY},
			{X: float64(ev.StartTime.Unix()), Y: maxY},
			{X: float64(end.Unix()), Y: maxY},
			{X: float64(end.Unix()), Y: minY},
		}
		poly, err := plotter.NewPolygon(span)
		if err != nil {
			return err
		}
		poly.Color = color.RGBA{R: 255, G: 82, B: 82, A: 48}
		poly.LineStyle.Width = 0
		p.Add(poly)
	}

	for _, seg := range segments {
		line, err := plotter.NewLine(seg)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 66, G: 133, B: 244, A: 255}
		p.Add(line)
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, outFile)
}
