package engine

import (
	"testing"
	"time"
)

// observeTemps drives the classifier with one reading per minute, using a
// synthetic stats snapshot that never trips the slope trigger. Returns the
// state after each reading and all emitted events.
func observeTemps(c *Classifier, temps []float64) ([]AnomalyState, []AnomalyEvent) {
	var states []AnomalyState
	var events []AnomalyEvent
	for i, temp := range temps {
		r := mkReading(SourceLive, time.Duration(i)*time.Minute, temp)
		events = append(events, c.Observe(r, RollingStats{Count: 10})...)
		states = append(states, c.State())
	}
	return states, events
}

func TestHysteresisSequence(t *testing.T) {
	// expected_max=8, margin=1, k=2: a hard-threshold reading must pass
	// through two WARMING samples before ANOMALOUS.
	c := NewClassifier("sensor_a", testParams())

	states, events := observeTemps(c, []float64{4, 4, 9, 9, 9})

	want := []AnomalyState{StateNormal, StateNormal, StateWarming, StateWarming, StateAnomalous}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state[%d] = %s, want %s (full: %v)", i, states[i], want[i], states)
		}
	}

	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1 open event", len(events))
	}
	ev := events[0]
	if ev.Closed() {
		t.Errorf("event closed on open: %+v", ev)
	}
	// Start time is the WARMING entry so the full excursion is captured.
	if wantStart := t0.Add(2 * time.Minute); !ev.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want WARMING entry %v", ev.StartTime, wantStart)
	}
}

func TestWarmingRecedesWithoutEvent(t *testing.T) {
	c := NewClassifier("sensor_a", testParams())

	states, events := observeTemps(c, []float64{4, 7.5, 4, 4})

	want := []AnomalyState{StateNormal, StateWarming, StateNormal, StateNormal}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state[%d] = %s, want %s", i, states[i], want[i])
		}
	}
	if len(events) != 0 {
		t.Errorf("debounce emitted events: %v", events)
	}
}

func TestSlopeTriggersWarming(t *testing.T) {
	params := testParams()
	params.SlopeThresholdCPerMin = 0.5
	c := NewClassifier("sensor_a", params)

	r := mkReading(SourceLive, 0, 2.0) // well inside the normal band
	c.Observe(r, RollingStats{Count: 10, ShortTermSlope: 0.8})
	if c.State() != StateWarming {
		t.Errorf("state = %s after slope breach, want %s", c.State(), StateWarming)
	}
}

func TestGracePeriodEscalates(t *testing.T) {
	params := testParams()
	params.WarmingGracePeriod = 5 * time.Minute
	c := NewClassifier("sensor_a", params)

	// Hovering above the soft threshold (7) but below the hard one (8):
	// escalation comes from time, not temperature.
	states, events := observeTemps(c, []float64{4, 7.5, 7.6, 7.5, 7.4, 7.5, 7.6, 7.5})

	if last := states[len(states)-1]; last != StateAnomalous {
		t.Fatalf("state = %s after grace period, want %s (full: %v)", last, StateAnomalous, states)
	}
	if len(events) != 1 || events[0].Closed() {
		t.Fatalf("expected one open event, got %v", events)
	}
}

func TestFullExcursionLifecycle(t *testing.T) {
	params := testParams()
	params.RecoveryHoldPeriod = 3 * time.Minute
	c := NewClassifier("sensor_a", params)

	temps := []float64{4, 4, 9, 9.5, 10.2, 9.0, 6.0, 5.0, 4.5, 4.0, 4.0}
	states, events := observeTemps(c, temps)

	if len(events) != 2 {
		t.Fatalf("emitted %d events, want open + close", len(events))
	}
	closed := events[1]
	if !closed.Closed() {
		t.Fatalf("second event not closed: %+v", closed)
	}
	if closed.Classification != ClassExcursion {
		t.Errorf("Classification = %s, want %s", closed.Classification, ClassExcursion)
	}
	// Peak equals the maximum observed between start and end inclusive.
	if closed.PeakTemperature != 10.2 {
		t.Errorf("PeakTemperature = %v, want 10.2", closed.PeakTemperature)
	}
	if closed.ID != events[0].ID {
		t.Errorf("close carries a different ID than open")
	}
	if last := states[len(states)-1]; last != StateNormal {
		t.Errorf("final state = %s, want %s", last, StateNormal)
	}
}

func TestOscillationExtendsEvent(t *testing.T) {
	params := testParams()
	params.RecoveryHoldPeriod = 10 * time.Minute
	c := NewClassifier("sensor_a", params)

	// Dip below the recovery threshold and climb back before the hold period
	// elapses, twice. One event only.
	temps := []float64{4, 4, 9, 9, 9, 6.5, 9.2, 6.5, 9.4, 6.0, 5.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0, 4.0}
	_, events := observeTemps(c, temps)

	var opened, closedEvents []AnomalyEvent
	for _, ev := range events {
		if ev.Closed() {
			closedEvents = append(closedEvents, ev)
		} else {
			opened = append(opened, ev)
		}
	}
	if len(opened) != 1 {
		t.Fatalf("opened %d events, want 1 (oscillation must not fragment)", len(opened))
	}
	if len(closedEvents) != 1 {
		t.Fatalf("closed %d events, want 1", len(closedEvents))
	}
	if closedEvents[0].PeakTemperature != 9.4 {
		t.Errorf("PeakTemperature = %v, want 9.4 (includes re-entry spikes)", closedEvents[0].PeakTemperature)
	}
}

func TestGapForcesNormal(t *testing.T) {
	c := NewClassifier("sensor_a", testParams())

	states, _ := observeTemps(c, []float64{4, 4, 9, 9, 9})
	if states[len(states)-1] != StateAnomalous {
		t.Fatalf("setup failed, state = %s", states[len(states)-1])
	}

	marker := Reading{SensorID: "sensor_a", Timestamp: t0.Add(30 * time.Minute), Source: SourceSynthetic, Gap: true}
	events := c.Observe(marker, RollingStats{Count: 10})

	if c.State() != StateNormal {
		t.Errorf("state after gap = %s, want %s", c.State(), StateNormal)
	}
	if c.Note() != NoteUnverifiedGap {
		t.Errorf("Note = %q, want %q", c.Note(), NoteUnverifiedGap)
	}
	if len(events) != 1 || events[0].Classification != ClassUnverifiedGap {
		t.Fatalf("open event not closed as unverified_gap: %v", events)
	}
	// The event ends at the last reading actually seen, not the marker.
	if want := t0.Add(4 * time.Minute); !events[0].EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want last seen %v", events[0].EndTime, want)
	}
}

func TestMinSamplesSuppressesClassification(t *testing.T) {
	params := testParams()
	params.MinSamples = 4
	c := NewClassifier("sensor_a", params)

	// Count below MinSamples: even a hard-threshold reading changes nothing.
	for i := 0; i < 3; i++ {
		r := mkReading(SourceLive, time.Duration(i)*time.Minute, 12.0)
		c.Observe(r, RollingStats{Count: i + 1})
	}
	if c.State() != StateNormal {
		t.Errorf("state = %s with a short window, want %s", c.State(), StateNormal)
	}
}

func TestFlushClosesInterrupted(t *testing.T) {
	c := NewClassifier("sensor_a", testParams())

	_, events := observeTemps(c, []float64{4, 4, 9, 9, 9})
	if len(events) != 1 {
		t.Fatalf("setup emitted %d events, want 1", len(events))
	}

	flushed := c.Flush()
	if len(flushed) != 1 {
		t.Fatalf("Flush emitted %d events, want 1", len(flushed))
	}
	ev := flushed[0]
	if ev.Classification != ClassInterrupted {
		t.Errorf("Classification = %s, want %s", ev.Classification, ClassInterrupted)
	}
	if want := t0.Add(4 * time.Minute); !ev.EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want last seen %v", ev.EndTime, want)
	}

	// Nothing left to flush.
	if again := c.Flush(); len(again) != 0 {
		t.Errorf("second Flush emitted %v", again)
	}
}

func TestDeterministicEventIDs(t *testing.T) {
	run := func() AnomalyEvent {
		c := NewClassifier("sensor_a", testParams())
		_, events := observeTemps(c, []float64{4, 4, 9, 9, 9})
		return events[0]
	}
	a, b := run(), run()
	if a.ID != b.ID {
		t.Errorf("identical runs produced different event IDs: %s vs %s", a.ID, b.ID)
	}
}
