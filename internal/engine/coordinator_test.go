package engine

import (
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func rawRecord(sensor string, ts time.Time, temp float64) RawRecord {
	v := temp
	return RawRecord{
		TargetName: "projects/p1/devices/" + sensor,
		Data: RawData{
			Temperature: &TemperatureSample{
				Value:      &v,
				UpdateTime: ts.Format(time.RFC3339),
			},
		},
	}
}

// collectEvents drains the engine's event stream until Shutdown closes it.
func collectEvents(e *Engine) func() []AnomalyEvent {
	done := make(chan []AnomalyEvent, 1)
	go func() {
		var events []AnomalyEvent
		for ev := range e.Events() {
			events = append(events, ev)
		}
		done <- events
	}()
	return func() []AnomalyEvent { return <-done }
}

func sortEvents(events []AnomalyEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.SensorID != b.SensorID {
			return a.SensorID < b.SensorID
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return !a.Closed() && b.Closed()
	})
}

func TestEngineEndToEnd(t *testing.T) {
	e := NewEngine(testParams())
	wait := collectEvents(e)

	// Backfill: steady cold readings for two sensors.
	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		e.SubmitHistorical(rawRecord("freezer_1", ts, 3.0))
		e.SubmitHistorical(rawRecord("cooler_2", ts, 4.0))
	}
	e.CompleteBackfill(nil)

	// Live: freezer_1 warms through an excursion and recovers; cooler_2 stays
	// cold throughout.
	liveTemps := []float64{9, 9, 9, 9.5, 6, 5, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4}
	for i, temp := range liveTemps {
		ts := t0.Add(time.Duration(5+i) * time.Minute)
		e.SubmitLive(rawRecord("freezer_1", ts, temp))
		e.SubmitLive(rawRecord("cooler_2", ts, 4.0))
	}
	e.Shutdown()

	events := wait()
	var freezer, cooler []AnomalyEvent
	for _, ev := range events {
		switch ev.SensorID {
		case "freezer_1":
			freezer = append(freezer, ev)
		case "cooler_2":
			cooler = append(cooler, ev)
		}
	}

	if len(cooler) != 0 {
		t.Errorf("cooler_2 emitted events: %v", cooler)
	}
	if len(freezer) != 2 {
		t.Fatalf("freezer_1 emitted %d events, want open + close: %v", len(freezer), freezer)
	}
	if freezer[0].Closed() || !freezer[1].Closed() {
		t.Errorf("expected open then close, got %v", freezer)
	}
	if freezer[1].Classification != ClassExcursion {
		t.Errorf("Classification = %s, want %s", freezer[1].Classification, ClassExcursion)
	}
	if freezer[1].PeakTemperature != 9.5 {
		t.Errorf("PeakTemperature = %v, want 9.5", freezer[1].PeakTemperature)
	}

	c := e.Counters()
	if c.Malformed != 0 {
		t.Errorf("Malformed = %d, want 0", c.Malformed)
	}
	if c.EventsOpened != 1 || c.EventsClosed != 1 {
		t.Errorf("event counters = %d opened / %d closed, want 1/1", c.EventsOpened, c.EventsClosed)
	}
}

func TestReplayDeterminism(t *testing.T) {
	run := func() []AnomalyEvent {
		e := NewEngine(testParams())
		wait := collectEvents(e)

		for i := 0; i < 5; i++ {
			e.SubmitHistorical(rawRecord("freezer_1", t0.Add(time.Duration(i)*time.Minute), 3.0))
			e.SubmitHistorical(rawRecord("freezer_2", t0.Add(time.Duration(i)*time.Minute), 3.5))
		}
		e.CompleteBackfill(nil)
		for i := 0; i < 12; i++ {
			temp := 9.0
			if i > 5 {
				temp = 4.0
			}
			e.SubmitLive(rawRecord("freezer_1", t0.Add(time.Duration(5+i)*time.Minute), temp))
			e.SubmitLive(rawRecord("freezer_2", t0.Add(time.Duration(5+i)*time.Minute), 3.5))
		}
		e.Shutdown()

		events := wait()
		sortEvents(events)
		return events
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay produced different events (-first +second):\n%s", diff)
	}
	if len(first) == 0 {
		t.Fatal("replay scenario emitted no events")
	}
}

func TestMalformedRecordsCountedNotFatal(t *testing.T) {
	e := NewEngine(testParams())
	wait := collectEvents(e)

	e.SubmitLive(RawRecord{}) // no targetName
	e.SubmitLive(RawRecord{TargetName: "projects/p1/devices/freezer_1",
		Data: RawData{Temperature: &TemperatureSample{UpdateTime: "2024-03-01T12:00:00Z"}}}) // no value
	v := 3.0
	e.SubmitLive(RawRecord{TargetName: "projects/p1/devices/freezer_1",
		Data: RawData{Temperature: &TemperatureSample{Value: &v, UpdateTime: "yesterday"}}}) // bad time
	e.SubmitLive(RawRecord{TargetName: "projects/p1/devices/freezer_1"}) // touch event, skipped

	// A valid record still flows.
	e.CompleteBackfill(nil)
	e.SubmitLive(rawRecord("freezer_1", t0, 3.0))
	e.Shutdown()
	wait()

	c := e.Counters()
	if c.Malformed != 3 {
		t.Errorf("Malformed = %d, want 3", c.Malformed)
	}
	if c.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", c.Skipped)
	}
	if c.Fused != 1 {
		t.Errorf("Fused = %d, want 1", c.Fused)
	}
}

func TestLazyPipelineCreationAndStatus(t *testing.T) {
	e := NewEngine(testParams())
	wait := collectEvents(e)

	if got := len(e.Status()); got != 0 {
		t.Fatalf("fresh engine reports %d sensors, want 0", got)
	}

	e.CompleteBackfill(nil)
	// First sighting of a sensor after backfill completion: pipeline starts
	// in live-only mode.
	e.SubmitLive(rawRecord("door_sensor", t0, 2.0))
	e.SubmitLive(rawRecord("door_sensor", t0.Add(time.Minute), 2.1))

	statuses := e.Status()
	if len(statuses) != 1 {
		t.Fatalf("Status reports %d sensors, want 1", len(statuses))
	}
	st := statuses[0]
	if st.SensorID != "door_sensor" {
		t.Errorf("SensorID = %q", st.SensorID)
	}
	if st.State != StateNormal {
		t.Errorf("State = %s, want %s", st.State, StateNormal)
	}
	if !st.Cursor.BackfillDone {
		t.Errorf("pipeline created after backfill not marked done: %+v", st.Cursor)
	}
	if st.Stats.Count != 2 {
		t.Errorf("Stats.Count = %d, want 2", st.Stats.Count)
	}

	e.Shutdown()
	wait()
}

func TestTraceHookReceivesSnapshots(t *testing.T) {
	var traced []RollingStats
	e := NewEngine(testParams(), WithTrace(func(r Reading, stats RollingStats) {
		traced = append(traced, stats)
	}))
	wait := collectEvents(e)

	e.CompleteBackfill(nil)
	for i := 0; i < 4; i++ {
		e.SubmitLive(rawRecord("freezer_1", t0.Add(time.Duration(i)*time.Minute), 3.0))
	}
	e.Shutdown()
	wait()

	if len(traced) != 4 {
		t.Fatalf("trace received %d snapshots, want 4", len(traced))
	}
	if traced[3].Count != 4 {
		t.Errorf("final snapshot Count = %d, want 4", traced[3].Count)
	}
}
