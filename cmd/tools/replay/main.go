// Command replay runs a recorded session through the fusion engine and
// prints the resulting anomaly events as JSON lines.
//
// The same recording always produces the same events, so the tool is used to
// reproduce field incidents and to compare tuning configs against a known
// session.
//
// Usage:
//
//	go run ./cmd/tools/replay [flags]
//
// Flags:
//
//	-log      Path to a recorded JSONL session (required)
//	-csv      Treat a CSV export as a historical-only session instead
//	-config   Tuning config JSON (optional; defaults apply)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/banshee-data/coldwatch/internal/config"
	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/source"
)

func main() {
	logPath := flag.String("log", "", "Path to recorded JSONL session")
	csvPath := flag.String("csv", "", "Path to CSV export (historical only)")
	configPath := flag.String("config", "", "Tuning config JSON")
	flag.Parse()

	if *logPath == "" && *csvPath == "" {
		log.Fatal("Error: -log or -csv is required")
	}

	params := engine.DefaultParams()
	if *configPath != "" {
		cfg, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		params = cfg.EngineParams()
	}

	var historical, live source.Batch
	if *logPath != "" {
		entries, err := source.ReadRecording(*logPath)
		if err != nil {
			log.Fatalf("Failed to read recording: %v", err)
		}
		historical, live = source.Split(entries)
	} else {
		var err error
		historical, err = source.LoadCSV(*csvPath)
		if err != nil {
			log.Fatalf("Failed to load CSV: %v", err)
		}
	}

	eng := engine.NewEngine(params)

	var events []engine.AnomalyEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range eng.Events() {
			events = append(events, ev)
		}
	}()

	ctx := context.Background()
	if err := historical.Events(ctx, func(rec engine.RawRecord) error {
		eng.SubmitHistorical(rec)
		return nil
	}); err != nil {
		log.Fatalf("Failed to submit historical records: %v", err)
	}
	eng.CompleteBackfill(nil)

	if err := live.Stream(ctx, func(rec engine.RawRecord) error {
		eng.SubmitLive(rec)
		return nil
	}); err != nil {
		log.Fatalf("Failed to submit live records: %v", err)
	}

	eng.Shutdown()
	wg.Wait()

	// Cross-sensor interleaving follows goroutine scheduling; sort for a
	// stable, diffable report.
	sort.Slice(events, func(i, j int) bool {
		if events[i].SensorID != events[j].SensorID {
			return events[i].SensorID < events[j].SensorID
		}
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].Closed() && !events[j].Closed()
	})

	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			log.Fatalf("Failed to encode event: %v", err)
		}
	}

	c := eng.Counters()
	log.Printf("replay complete: fused=%d gaps=%d malformed=%d events opened=%d closed=%d",
		c.Fused, c.GapMarkers, c.Malformed, c.EventsOpened, c.EventsClosed)
}
