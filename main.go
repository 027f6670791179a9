package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/coldwatch/api"
	"github.com/banshee-data/coldwatch/internal/config"
	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/eventdb"
	"github.com/banshee-data/coldwatch/internal/monitor"
	"github.com/banshee-data/coldwatch/internal/source"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "coldwatch.db", "Event database path")
	configPath    = flag.String("config", "", "Tuning config JSON (optional; defaults apply)")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	projectID     = flag.String("project", "", "Vendor API project ID")
	apiURL        = flag.String("api-url", source.DefaultBaseURL, "Vendor API base URL")
	history       = flag.Duration("history", 24*time.Hour, "Historical backfill lookback")
	replayFile    = flag.String("replay", "", "Replay a recorded JSONL session instead of connecting")
	csvFile       = flag.String("csv", "", "Import a CSV recording as the historical source")
	recordFile    = flag.String("record", "", "Record the session's raw records to a JSONL file")
)

func resolveParams() engine.Params {
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return engine.DefaultParams()
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	return cfg.EngineParams()
}

// runBackfill feeds every configured historical source into the engine, then
// signals backfill completion. A total backfill failure is reported so fused
// output downstream carries the incomplete annotation.
func runBackfill(ctx context.Context, eng *engine.Engine, rec *source.Recorder, sources []source.HistoricalSource) {
	var firstErr error
	for _, src := range sources {
		err := src.Events(ctx, func(raw engine.RawRecord) error {
			if rec != nil {
				rec.Record(engine.SourceHistorical, raw)
			}
			eng.SubmitHistorical(raw)
			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		log.Printf("backfill incomplete: %v", firstErr)
	}
	eng.CompleteBackfill(firstErr)
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	params := resolveParams()

	db, err := eventdb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open event database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(*migrationsDir); err == nil {
		if err := db.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	}

	eng := engine.NewEngine(params, engine.WithTrace(func(r engine.Reading, stats engine.RollingStats) {
		if err := db.RecordReading(r); err != nil {
			log.Printf("failed to record reading: %v", err)
		}
	}))

	// Assemble sources. A replay or CSV session runs from disk; otherwise the
	// vendor API provides both backfill and live stream. Starting with no
	// usable source at all is fatal.
	var (
		historicals []source.HistoricalSource
		live        source.LiveSource
	)
	switch {
	case *replayFile != "":
		entries, err := source.ReadRecording(*replayFile)
		if err != nil {
			log.Fatalf("failed to read recording: %v", err)
		}
		hist, liveBatch := source.Split(entries)
		historicals = append(historicals, hist)
		live = liveBatch
	case *csvFile != "":
		batch, err := source.LoadCSV(*csvFile)
		if err != nil {
			log.Fatalf("failed to load CSV: %v", err)
		}
		historicals = append(historicals, batch)
	default:
		creds := source.Credentials{
			Key:       os.Getenv("COLDWATCH_API_KEY"),
			Secret:    os.Getenv("COLDWATCH_API_SECRET"),
			ProjectID: *projectID,
		}
		if creds.Key == "" || creds.Secret == "" || creds.ProjectID == "" {
			log.Fatal("no source available: set COLDWATCH_API_KEY, COLDWATCH_API_SECRET and -project, or use -replay/-csv")
		}
		client := source.NewClient(*apiURL, creds)

		devices, err := client.Devices(context.Background())
		if err != nil {
			log.Fatalf("failed to list devices: %v", err)
		}
		start := time.Now().UTC().Add(-*history)
		for _, d := range devices {
			if !d.IsTemperature() {
				continue
			}
			historicals = append(historicals, client.History(source.HistoryOptions{
				DeviceID: d.ID(),
				Start:    start,
			}))
		}
		if len(historicals) == 0 {
			log.Fatal("no temperature devices found in project")
		}
		live = client.Live()
	}

	var recorder *source.Recorder
	if *recordFile != "" {
		recorder, err = source.NewRecorder(*recordFile)
		if err != nil {
			log.Fatalf("Failed to create recording: %v", err)
		}
		defer recorder.Close()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// engine routine: owns pipeline lifecycles and the hold-timeout ticker
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
		log.Print("engine routine terminated")
	}()

	// event sink routine: persists anomaly events as they open and close
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range eng.Events() {
			if ev.Closed() {
				log.Printf("event closed: sensor=%s class=%s peak=%.1f", ev.SensorID, ev.Classification, ev.PeakTemperature)
			} else {
				log.Printf("event opened: sensor=%s start=%s", ev.SensorID, ev.StartTime.Format(time.RFC3339))
			}
			if err := db.RecordEvent(ev); err != nil {
				log.Printf("failed to record event: %v", err)
			}
		}
		log.Print("event sink routine terminated")
	}()

	// source routines: backfill first, live stream concurrently
	wg.Add(1)
	go func() {
		defer wg.Done()
		runBackfill(ctx, eng, recorder, historicals)
		log.Print("backfill routine terminated")
	}()

	if live != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := live.Stream(ctx, func(raw engine.RawRecord) error {
				if recorder != nil {
					recorder.Record(engine.SourceLive, raw)
				}
				eng.SubmitLive(raw)
				return nil
			})
			if err != nil && err != context.Canceled {
				log.Printf("live stream terminated: %v", err)
			}
			log.Print("live routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: *listen,
			Engine:  eng,
			DB:      db,
		})
		mux := ws.Handler()

		// mount the admin debugging routes and the public API
		db.AttachAdminRoutes(mux)
		apiMux := api.NewServer(eng, db).ServeMux()
		mux.Handle("/api/", apiMux)

		if err := ws.Start(ctx); err != nil && err != http.ErrServerClosed {
			log.Printf("web server error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
