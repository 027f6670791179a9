package engine

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyState is the per-sensor classification state.
type AnomalyState string

const (
	StateNormal     AnomalyState = "normal"
	StateWarming    AnomalyState = "warming"
	StateAnomalous  AnomalyState = "anomalous"
	StateRecovering AnomalyState = "recovering"
)

// EventClassification labels how an anomaly event ended.
type EventClassification string

const (
	// ClassExcursion is a temperature excursion that opened and closed
	// through the normal state machine path.
	ClassExcursion EventClassification = "temperature_excursion"
	// ClassInterrupted marks an event force-closed by engine shutdown.
	ClassInterrupted EventClassification = "interrupted"
	// ClassUnverifiedGap marks an event force-closed because a data gap made
	// further inference from stale statistics unsound.
	ClassUnverifiedGap EventClassification = "unverified_gap"
)

// NoteUnverifiedGap is attached to a sensor's status when a gap forced its
// state back to NORMAL.
const NoteUnverifiedGap = "UNVERIFIED_GAP"

// eventNamespace seeds deterministic event IDs so replaying an identical
// input sequence reproduces identical events.
var eventNamespace = uuid.MustParse("8cbf2a71-16c4-47f3-9df3-2f1b4a6f15c2")

// AnomalyEvent describes one excursion. Emitted once when opened (EndTime
// nil) and once when closed; immutable after close.
type AnomalyEvent struct {
	ID              uuid.UUID           `json:"id"`
	SensorID        string              `json:"sensor_id"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         *time.Time          `json:"end_time,omitempty"`
	PeakTemperature float64             `json:"peak_temperature"`
	Classification  EventClassification `json:"classification"`
}

// Closed reports whether the event has ended.
func (e AnomalyEvent) Closed() bool { return e.EndTime != nil }

// Classifier runs the per-sensor anomaly state machine. Hysteresis margins
// and grace/hold periods prevent flapping on sensor and transport jitter; all
// timing derives from reading timestamps, never wall clock, so backfill and
// live input classify identically.
//
// Transitions:
//
//	NORMAL     -> WARMING     soft threshold or slope exceeded
//	WARMING    -> ANOMALOUS   hard threshold after k WARMING readings, or soft
//	                          condition held past the grace period
//	WARMING    -> NORMAL      conditions receded (pure debounce, no event)
//	ANOMALOUS  -> RECOVERING  temperature back below the soft threshold
//	RECOVERING -> NORMAL      held below threshold for the recovery period
//	RECOVERING -> ANOMALOUS   rose again; the open event extends, no new one
//
// A data-gap marker forces NORMAL and closes any open event as
// unverified_gap rather than inferring across the gap.
//
// Owned by a single pipeline goroutine; not safe for concurrent use.
type Classifier struct {
	sensorID string
	params   Params

	state           AnomalyState
	warmStreak      int       // readings spent in WARMING, entry included
	warmingSince    time.Time // when WARMING was entered
	recoveringSince time.Time // when RECOVERING was entered
	lastTS          time.Time
	note            string

	open *AnomalyEvent // event under construction, nil outside an excursion
	peak float64       // max temperature since the event's start
}

// NewClassifier creates a classifier starting in NORMAL.
func NewClassifier(sensorID string, params Params) *Classifier {
	return &Classifier{
		sensorID: sensorID,
		params:   params,
		state:    StateNormal,
	}
}

// State returns the current classification state.
func (c *Classifier) State() AnomalyState { return c.state }

// Note returns the most recent advisory note, e.g. after a forced gap reset.
func (c *Classifier) Note() string { return c.note }

// Observe advances the state machine by one fused reading and returns any
// events emitted by the transition: an open event on entering ANOMALOUS, a
// closed one on settling back to NORMAL.
//
// stats is the tracker snapshot after folding in the same reading. Until the
// window holds at least MinSamples readings, readings fuse but do not
// classify.
func (c *Classifier) Observe(r Reading, stats RollingStats) []AnomalyEvent {
	if r.Gap {
		return c.observeGap()
	}
	c.lastTS = r.Timestamp
	c.note = ""
	if stats.Count < c.params.MinSamples {
		return nil
	}

	temp := r.Temperature
	soft := temp > c.params.ExpectedMaxC-c.params.MarginC ||
		stats.ShortTermSlope > c.params.SlopeThresholdCPerMin

	switch c.state {
	case StateNormal:
		if !soft {
			return nil
		}
		c.state = StateWarming
		c.warmingSince = r.Timestamp
		c.warmStreak = 1
		c.peak = temp
		return nil

	case StateWarming:
		if !soft {
			// Single-sample noise; recede without an event.
			c.state = StateNormal
			c.warmStreak = 0
			return nil
		}
		c.warmStreak++
		if temp > c.peak {
			c.peak = temp
		}
		// Escalate once the hard threshold is crossed after WARMING has held
		// for at least WarmingSamples readings, or once the soft condition
		// has outlasted the grace period.
		if (temp > c.params.ExpectedMaxC && c.warmStreak > c.params.WarmingSamples) ||
			r.Timestamp.Sub(c.warmingSince) > c.params.WarmingGracePeriod {
			c.state = StateAnomalous
			return []AnomalyEvent{c.openEvent()}
		}
		return nil

	case StateAnomalous:
		if temp > c.peak {
			c.peak = temp
		}
		if temp < c.params.ExpectedMaxC-c.params.MarginC {
			c.state = StateRecovering
			c.recoveringSince = r.Timestamp
		}
		return nil

	case StateRecovering:
		if temp > c.peak {
			c.peak = temp
		}
		if temp > c.params.ExpectedMaxC-c.params.MarginC {
			// Rose again before the hold elapsed: extend the same event
			// rather than fragmenting it.
			c.state = StateAnomalous
			return nil
		}
		if r.Timestamp.Sub(c.recoveringSince) >= c.params.RecoveryHoldPeriod {
			c.state = StateNormal
			c.warmStreak = 0
			return []AnomalyEvent{c.closeEvent(r.Timestamp, ClassExcursion)}
		}
		return nil
	}
	return nil
}

// observeGap forces the machine back to NORMAL across a data gap.
func (c *Classifier) observeGap() []AnomalyEvent {
	c.note = NoteUnverifiedGap
	c.warmStreak = 0
	prev := c.state
	c.state = StateNormal
	if c.open != nil && (prev == StateAnomalous || prev == StateRecovering) {
		return []AnomalyEvent{c.closeEvent(c.lastTS, ClassUnverifiedGap)}
	}
	c.open = nil
	return nil
}

// Flush closes any open event at shutdown, preserving everything classified
// so far. The event ends at the last seen timestamp, marked interrupted.
func (c *Classifier) Flush() []AnomalyEvent {
	if c.open == nil {
		return nil
	}
	c.state = StateNormal
	c.warmStreak = 0
	return []AnomalyEvent{c.closeEvent(c.lastTS, ClassInterrupted)}
}

// openEvent starts the excursion record. The start time is the WARMING entry,
// not the ANOMALOUS entry, so the full excursion is captured. The ID derives
// from sensor and start time, keeping replays byte-identical.
func (c *Classifier) openEvent() AnomalyEvent {
	start := c.warmingSince
	ev := AnomalyEvent{
		ID:              uuid.NewSHA1(eventNamespace, []byte(c.sensorID+"/"+start.UTC().Format(time.RFC3339Nano))),
		SensorID:        c.sensorID,
		StartTime:       start,
		PeakTemperature: c.peak,
		Classification:  ClassExcursion,
	}
	c.open = &ev
	return ev
}

func (c *Classifier) closeEvent(end time.Time, class EventClassification) AnomalyEvent {
	ev := *c.open
	endUTC := end.UTC()
	ev.EndTime = &endUTC
	ev.PeakTemperature = c.peak
	ev.Classification = class
	c.open = nil
	return ev
}
