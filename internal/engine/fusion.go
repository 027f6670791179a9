package engine

import (
	"sort"
	"time"

	"github.com/banshee-data/coldwatch/internal/monitoring"
)

// intervalHistoryLen is how many inter-arrival deltas are kept for tracking a
// sensor's effective sampling interval.
const intervalHistoryLen = 8

// FusionBuffer merges a sensor's historical backfill and live stream into one
// strictly time-ordered, duplicate-free sequence and detects data gaps.
//
// All methods must be called from the single goroutine that owns the sensor's
// pipeline; the buffer carries no locks of its own.
//
// Merge semantics:
//   - Historical pages arrive time-ascending; each push may release readings.
//   - A live reading arriving while backfill is still draining is held until a
//     historical reading proves backfill passed its timestamp, backfill
//     finishes, or the hold timeout expires (released with GAP_TOLERATED).
//   - A historical and a live reading within the equality tolerance are
//     duplicates; the live one wins.
//   - A delta between consecutive fused readings above GapFactor times the
//     tracked sampling interval releases a synthetic gap marker first.
type FusionBuffer struct {
	sensorID string
	params   Params
	now      func() time.Time

	hasFused   bool
	lastFused  time.Time // timestamp of last released entry (reading or marker)
	lastSample time.Time // timestamp of last released temperature reading

	backfillDone   bool
	backfillFailed bool
	annotateNext   bool // attach BACKFILL_INCOMPLETE to the next release

	pending []heldReading // live readings awaiting backfill, sorted by timestamp

	intervals     [intervalHistoryLen]time.Duration
	intervalCount int
	intervalNext  int
}

type heldReading struct {
	reading   Reading
	heldSince time.Time
}

// FusionCursor is a snapshot of the buffer's bookkeeping, exposed for status
// endpoints and debugging.
type FusionCursor struct {
	LastFused        time.Time `json:"last_fused"`
	PendingLive      int       `json:"pending_live"`
	BackfillDone     bool      `json:"backfill_done"`
	BackfillFailed   bool      `json:"backfill_failed"`
	SamplingInterval string    `json:"sampling_interval"`
}

// NewFusionBuffer creates a fusion buffer for one sensor. The now function is
// injectable for tests; pass nil for time.Now.
func NewFusionBuffer(sensorID string, params Params, now func() time.Time) *FusionBuffer {
	if now == nil {
		now = time.Now
	}
	return &FusionBuffer{
		sensorID: sensorID,
		params:   params,
		now:      now,
	}
}

// Cursor returns a snapshot of the merge bookkeeping.
func (fb *FusionBuffer) Cursor() FusionCursor {
	return FusionCursor{
		LastFused:        fb.lastFused,
		PendingLive:      len(fb.pending),
		BackfillDone:     fb.backfillDone,
		BackfillFailed:   fb.backfillFailed,
		SamplingInterval: fb.expectedInterval().String(),
	}
}

// PushHistorical offers a backfill reading to the merge and returns the
// readings released downstream, in order. Re-offering an already-fused batch
// releases nothing: duplicates collapse against the fused cursor.
func (fb *FusionBuffer) PushHistorical(r Reading) []Reading {
	if fb.isDuplicate(r.Timestamp) {
		return nil
	}

	var out []Reading
	if fb.backfillDone {
		// Stray page after completion; release if it still advances the
		// sequence (already checked above).
		return fb.release(out, r)
	}

	// Backfill has provably drained past any held live reading older than
	// this one; interleave those first.
	tol := fb.params.EqualityTolerance
	for len(fb.pending) > 0 && fb.pending[0].reading.Timestamp.Before(r.Timestamp.Add(-tol)) {
		out = fb.release(out, fb.pending[0].reading)
		fb.pending = fb.pending[1:]
	}

	// Same instant within tolerance: the live reading carries the
	// authoritative value after any backend correction.
	if len(fb.pending) > 0 && !fb.pending[0].reading.Timestamp.After(r.Timestamp.Add(tol)) {
		out = fb.release(out, fb.pending[0].reading)
		fb.pending = fb.pending[1:]
		return out
	}

	return fb.release(out, r)
}

// PushLive offers a live reading to the merge and returns any readings
// released downstream. Reconnect overlap deduplicates by the same tolerance
// rule as historical/live overlap.
func (fb *FusionBuffer) PushLive(r Reading) []Reading {
	if fb.isDuplicate(r.Timestamp) {
		return nil
	}
	if fb.backfillDone {
		return fb.release(nil, r)
	}

	// Hold until backfill catches up. Insert sorted; a held duplicate within
	// tolerance is dropped.
	tol := fb.params.EqualityTolerance
	idx := sort.Search(len(fb.pending), func(i int) bool {
		return fb.pending[i].reading.Timestamp.After(r.Timestamp)
	})
	if idx > 0 && !r.Timestamp.After(fb.pending[idx-1].reading.Timestamp.Add(tol)) {
		return nil
	}
	if idx < len(fb.pending) && !fb.pending[idx].reading.Timestamp.After(r.Timestamp.Add(tol)) {
		return nil
	}
	fb.pending = append(fb.pending, heldReading{})
	copy(fb.pending[idx+1:], fb.pending[idx:])
	fb.pending[idx] = heldReading{reading: r, heldSince: fb.now()}
	return nil
}

// FinishBackfill marks the historical source drained. A non-nil err means the
// paging terminated early; this is non-fatal and the sequence continues on
// live input annotated BACKFILL_INCOMPLETE. Held live readings are released.
func (fb *FusionBuffer) FinishBackfill(err error) []Reading {
	if fb.backfillDone {
		return nil
	}
	fb.backfillDone = true
	if err != nil {
		fb.backfillFailed = true
		fb.annotateNext = true
		monitoring.Logf("sensor %s: backfill incomplete, continuing live-only: %v", fb.sensorID, err)
	}

	var out []Reading
	for _, held := range fb.pending {
		out = fb.release(out, held.reading)
	}
	fb.pending = nil
	return out
}

// ReleaseExpired releases held live readings whose hold timeout elapsed,
// annotated GAP_TOLERATED. Called periodically while backfill is draining so a
// stalled historical fetch cannot block live processing indefinitely.
func (fb *FusionBuffer) ReleaseExpired() []Reading {
	if fb.backfillDone || len(fb.pending) == 0 {
		return nil
	}
	now := fb.now()
	var out []Reading
	for len(fb.pending) > 0 && now.Sub(fb.pending[0].heldSince) >= fb.params.LiveHoldTimeout {
		out = fb.release(out, fb.pending[0].reading.Annotated(AnnotGapTolerated))
		fb.pending = fb.pending[1:]
	}
	return out
}

// isDuplicate reports whether a timestamp falls at or before the fused cursor
// plus the equality tolerance. Such readings have already been represented in
// the released sequence.
func (fb *FusionBuffer) isDuplicate(ts time.Time) bool {
	if !fb.hasFused {
		return false
	}
	return !ts.After(fb.lastFused.Add(fb.params.EqualityTolerance))
}

// release appends r (preceded by a gap marker when the delta demands one) to
// out and advances the cursor.
func (fb *FusionBuffer) release(out []Reading, r Reading) []Reading {
	if fb.annotateNext {
		r = r.Annotated(AnnotBackfillIncomplete)
		fb.annotateNext = false
	}

	if fb.hasFused && !fb.lastSample.IsZero() {
		delta := r.Timestamp.Sub(fb.lastSample)
		threshold := time.Duration(fb.params.GapFactor * float64(fb.expectedInterval()))
		if delta > threshold {
			marker := gapMarker(fb.sensorID, fb.lastSample, r.Timestamp)
			monitoring.Debugf("sensor %s: data gap %s -> %s (delta %s)",
				fb.sensorID, fb.lastSample.Format(time.RFC3339), r.Timestamp.Format(time.RFC3339), delta)
			out = append(out, marker)
		} else {
			fb.recordInterval(delta)
		}
	}

	fb.hasFused = true
	fb.lastFused = r.Timestamp
	fb.lastSample = r.Timestamp
	return append(out, r)
}

func (fb *FusionBuffer) recordInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	fb.intervals[fb.intervalNext] = d
	fb.intervalNext = (fb.intervalNext + 1) % intervalHistoryLen
	if fb.intervalCount < intervalHistoryLen {
		fb.intervalCount++
	}
}

// expectedInterval returns the median of the recent inter-arrival deltas, or
// the configured sampling interval until enough deltas exist.
func (fb *FusionBuffer) expectedInterval() time.Duration {
	if fb.intervalCount < 2 {
		return fb.params.SamplingInterval
	}
	recent := make([]time.Duration, fb.intervalCount)
	copy(recent, fb.intervals[:fb.intervalCount])
	sort.Slice(recent, func(i, j int) bool { return recent[i] < recent[j] })
	return recent[fb.intervalCount/2]
}
