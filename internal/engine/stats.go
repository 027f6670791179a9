package engine

import (
	"math"
	"time"
)

// shortSlopeSamples is how many of the most recent readings feed the
// short-term rate-of-change estimate.
const shortSlopeSamples = 3

// RollingStats is an immutable snapshot of a sensor's incremental aggregates,
// derived solely from its window contents.
type RollingStats struct {
	SensorID       string    `json:"sensor_id"`
	Count          int       `json:"count"`
	Mean           float64   `json:"mean"`
	Variance       float64   `json:"variance"`
	StdDev         float64   `json:"std_dev"`
	LastValue      float64   `json:"last_value"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	ShortTermSlope float64   `json:"short_term_slope"` // °C per minute over the last 3 readings
	LongTermSlope  float64   `json:"long_term_slope"`  // °C per minute, least squares over the window
}

type sample struct {
	ts    time.Time
	value float64
	seg   int // slope continuity segment; bumped across data gaps
}

// StatsTracker maintains a bounded sliding window and O(1)-amortised
// incremental statistics over one sensor's fused readings. Mean and variance
// use Welford's online update (with the inverse update on eviction) so no full
// recompute ever happens. The long-term slope keeps running regression sums.
//
// Gap markers are skipped for value statistics but break slope continuity:
// slopes restart from the first post-gap reading.
//
// Owned by a single pipeline goroutine; not safe for concurrent use.
type StatsTracker struct {
	sensorID string
	params   Params

	samples []sample
	seg     int

	// Welford state over the whole window.
	count int
	mean  float64
	m2    float64

	// Regression sums over current-segment samples in the window. Times are
	// minutes since segEpoch to keep the sums well-conditioned.
	segEpoch time.Time
	segN     int
	sumT     float64
	sumY     float64
	sumTY    float64
	sumTT    float64

	lastValue float64
	lastTS    time.Time
}

// NewStatsTracker creates a tracker for one sensor.
func NewStatsTracker(sensorID string, params Params) *StatsTracker {
	return &StatsTracker{sensorID: sensorID, params: params}
}

// Observe folds one fused reading into the window and returns the updated
// snapshot. Gap markers reset slope continuity and change nothing else.
func (st *StatsTracker) Observe(r Reading) RollingStats {
	if r.Gap {
		st.breakContinuity()
		return st.Snapshot()
	}
	st.add(r.Timestamp, r.Temperature)
	st.evict(r.Timestamp)
	return st.Snapshot()
}

// Count returns the number of readings currently in the window.
func (st *StatsTracker) Count() int { return st.count }

// Snapshot returns the current aggregate values.
func (st *StatsTracker) Snapshot() RollingStats {
	s := RollingStats{
		SensorID:      st.sensorID,
		Count:         st.count,
		Mean:          st.mean,
		LastValue:     st.lastValue,
		LastTimestamp: st.lastTS,
	}
	if st.count > 1 {
		s.Variance = st.m2 / float64(st.count-1)
		if s.Variance < 0 {
			s.Variance = 0 // guard against rounding drift
		}
		s.StdDev = math.Sqrt(s.Variance)
	}
	s.ShortTermSlope = st.shortSlope()
	s.LongTermSlope = st.longSlope()
	return s
}

func (st *StatsTracker) breakContinuity() {
	st.seg++
	st.segN = 0
	st.sumT, st.sumY, st.sumTY, st.sumTT = 0, 0, 0, 0
	st.segEpoch = time.Time{}
}

func (st *StatsTracker) add(ts time.Time, v float64) {
	st.samples = append(st.samples, sample{ts: ts, value: v, seg: st.seg})
	st.lastValue = v
	st.lastTS = ts

	// Welford forward update.
	st.count++
	delta := v - st.mean
	st.mean += delta / float64(st.count)
	st.m2 += delta * (v - st.mean)

	// Regression sums for the current segment.
	if st.segN == 0 {
		st.segEpoch = ts
	}
	t := ts.Sub(st.segEpoch).Minutes()
	st.segN++
	st.sumT += t
	st.sumY += v
	st.sumTY += t * v
	st.sumTT += t * t
}

// evict drops samples outside the time bound or beyond the count cap,
// whichever bites first, unwinding their statistical contribution.
func (st *StatsTracker) evict(newest time.Time) {
	cutoff := newest.Add(-st.params.WindowDuration)
	for len(st.samples) > 0 &&
		(st.samples[0].ts.Before(cutoff) || len(st.samples) > st.params.WindowMaxCount) {
		st.remove(st.samples[0])
		st.samples = st.samples[1:]
	}
}

func (st *StatsTracker) remove(s sample) {
	// Welford inverse update.
	if st.count == 1 {
		st.count, st.mean, st.m2 = 0, 0, 0
	} else {
		n := float64(st.count)
		newMean := (n*st.mean - s.value) / (n - 1)
		st.m2 -= (s.value - st.mean) * (s.value - newMean)
		if st.m2 < 0 {
			st.m2 = 0
		}
		st.mean = newMean
		st.count--
	}

	if s.seg == st.seg && st.segN > 0 {
		t := s.ts.Sub(st.segEpoch).Minutes()
		st.segN--
		st.sumT -= t
		st.sumY -= s.value
		st.sumTY -= t * s.value
		st.sumTT -= t * t
	}
}

// shortSlope averages the rate of change over the most recent readings of the
// current segment, which reduces to endpoint rise over endpoint run.
func (st *StatsTracker) shortSlope() float64 {
	var recent []sample
	for i := len(st.samples) - 1; i >= 0 && len(recent) < shortSlopeSamples; i-- {
		if st.samples[i].seg != st.seg {
			break
		}
		recent = append(recent, st.samples[i])
	}
	if len(recent) < 2 {
		return 0
	}
	newest, oldest := recent[0], recent[len(recent)-1]
	run := newest.ts.Sub(oldest.ts).Minutes()
	if run <= 0 {
		return 0
	}
	return (newest.value - oldest.value) / run
}

// longSlope is the least-squares slope over the current segment's window
// samples, computed from the running sums.
func (st *StatsTracker) longSlope() float64 {
	if st.segN < 2 {
		return 0
	}
	n := float64(st.segN)
	denom := n*st.sumTT - st.sumT*st.sumT
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	return (n*st.sumTY - st.sumT*st.sumY) / denom
}
