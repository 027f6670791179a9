package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/coldwatch/internal/monitoring"
)

// TraceFunc receives a per-reading statistics snapshot when tracing is
// enabled. Called from pipeline goroutines; implementations must be
// concurrency-safe.
type TraceFunc func(r Reading, stats RollingStats)

// SensorStatus is a point-in-time view of one sensor's pipeline.
type SensorStatus struct {
	SensorID string       `json:"sensor_id"`
	State    AnomalyState `json:"state"`
	Note     string       `json:"note,omitempty"`
	Stats    RollingStats `json:"stats"`
	Cursor   FusionCursor `json:"cursor"`
}

// Counters aggregates engine-wide tallies.
type Counters struct {
	Malformed    uint64 `json:"malformed"`     // records dropped by normalization
	Skipped      uint64 `json:"skipped"`       // non-temperature records ignored
	Fused        uint64 `json:"fused"`         // readings released downstream
	GapMarkers   uint64 `json:"gap_markers"`   // synthetic gap readings emitted
	EventsOpened uint64 `json:"events_opened"` // anomaly events opened
	EventsClosed uint64 `json:"events_closed"` // anomaly events closed
}

type msgKind int

const (
	msgHistorical msgKind = iota
	msgLive
	msgBackfillDone
	msgTick
	msgStatus
)

type message struct {
	kind    msgKind
	reading Reading
	err     error
	reply   chan SensorStatus
}

// pipeline is the single-goroutine processing chain for one sensor:
// fusion buffer -> stats tracker -> classifier. No state is shared across
// sensors, so pipelines run fully in parallel.
type pipeline struct {
	sensorID   string
	in         chan message
	fusion     *FusionBuffer
	tracker    *StatsTracker
	classifier *Classifier
}

// Engine is the coordinator: it routes normalized readings to per-sensor
// pipelines (created lazily on first sighting of a sensor id) and multiplexes
// their anomaly events into one output stream.
type Engine struct {
	params Params
	trace  TraceFunc
	now    func() time.Time

	events chan AnomalyEvent

	mu           sync.Mutex
	pipelines    map[string]*pipeline
	backfillDone bool
	backfillErr  error
	closed       bool
	wg           sync.WaitGroup

	malformed    atomic.Uint64
	skipped      atomic.Uint64
	fused        atomic.Uint64
	gapMarkers   atomic.Uint64
	eventsOpened atomic.Uint64
	eventsClosed atomic.Uint64
}

// Option customises engine construction.
type Option func(*Engine)

// WithTrace installs a per-reading statistics trace hook.
func WithTrace(f TraceFunc) Option {
	return func(e *Engine) { e.trace = f }
}

// WithClock injects a wall clock for the fusion hold timeout. Tests use this;
// classification itself never reads the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a coordinator with the given tuning.
func NewEngine(params Params, opts ...Option) *Engine {
	e := &Engine{
		params:    params,
		now:       time.Now,
		events:    make(chan AnomalyEvent, 256),
		pipelines: make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the multiplexed anomaly event stream. Each event appears
// once when opened and once when closed. Ordering is deterministic per
// sensor; interleaving across sensors follows processing order. Callers must
// drain the channel, otherwise pipelines eventually stall on emission.
func (e *Engine) Events() <-chan AnomalyEvent { return e.events }

// Counters returns a snapshot of engine-wide tallies.
func (e *Engine) Counters() Counters {
	return Counters{
		Malformed:    e.malformed.Load(),
		Skipped:      e.skipped.Load(),
		Fused:        e.fused.Load(),
		GapMarkers:   e.gapMarkers.Load(),
		EventsOpened: e.eventsOpened.Load(),
		EventsClosed: e.eventsClosed.Load(),
	}
}

// SubmitHistorical normalizes and routes one raw record from the historical
// source. Malformed records are counted and dropped, never fatal.
func (e *Engine) SubmitHistorical(raw RawRecord) {
	e.submit(raw, SourceHistorical)
}

// SubmitLive normalizes and routes one raw record from the live stream.
func (e *Engine) SubmitLive(raw RawRecord) {
	e.submit(raw, SourceLive)
}

func (e *Engine) submit(raw RawRecord, source Source) {
	if raw.TargetName != "" && !raw.IsTemperature() {
		// Touch/network events share the stream; not an error.
		e.skipped.Add(1)
		return
	}
	r, err := Normalize(raw, source)
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			e.malformed.Add(1)
			monitoring.Debugf("dropping record: %v", err)
			return
		}
		e.malformed.Add(1)
		monitoring.Logf("normalize: %v", err)
		return
	}

	kind := msgHistorical
	if source == SourceLive {
		kind = msgLive
	}
	e.dispatch(r.SensorID, message{kind: kind, reading: r})
}

// CompleteBackfill marks the historical source drained for every sensor,
// current and future. A non-nil err records early termination; pipelines
// continue on live input.
func (e *Engine) CompleteBackfill(err error) {
	e.mu.Lock()
	if e.closed || e.backfillDone {
		e.mu.Unlock()
		return
	}
	e.backfillDone = true
	e.backfillErr = err
	for _, p := range e.pipelines {
		p.in <- message{kind: msgBackfillDone, err: err}
	}
	e.mu.Unlock()
}

// Tick gives every pipeline a chance to release live readings whose hold
// timeout expired. Run calls this periodically; replay harnesses simply never
// do, keeping replays deterministic.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, p := range e.pipelines {
		p.in <- message{kind: msgTick}
	}
}

// Status reports a snapshot for every active sensor, sorted by sensor id.
func (e *Engine) Status() []SensorStatus {
	e.mu.Lock()
	statuses := make([]SensorStatus, 0, len(e.pipelines))
	if !e.closed {
		for _, p := range e.pipelines {
			reply := make(chan SensorStatus, 1)
			p.in <- message{kind: msgStatus, reply: reply}
			statuses = append(statuses, <-reply)
		}
	}
	e.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].SensorID < statuses[j].SensorID })
	return statuses
}

// Run services the fusion hold timeout until ctx is cancelled, then shuts the
// engine down. Most callers run this in a goroutine alongside the producers.
func (e *Engine) Run(ctx context.Context) {
	interval := e.params.LiveHoldTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Shutdown stops accepting input, flushes every pipeline (open anomaly events
// close as interrupted at their last seen timestamp), waits for the workers
// and closes the event stream. Safe to call once.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, p := range e.pipelines {
		close(p.in)
	}
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
}

// dispatch hands a message to the sensor's pipeline, creating it lazily.
func (e *Engine) dispatch(sensorID string, msg message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	p, ok := e.pipelines[sensorID]
	if !ok {
		p = &pipeline{
			sensorID:   sensorID,
			in:         make(chan message, 64),
			fusion:     NewFusionBuffer(sensorID, e.params, e.now),
			tracker:    NewStatsTracker(sensorID, e.params),
			classifier: NewClassifier(sensorID, e.params),
		}
		e.pipelines[sensorID] = p
		e.wg.Add(1)
		go e.runPipeline(p)
		if e.backfillDone {
			// Sensor first seen after backfill finished; its fusion buffer
			// starts in live-only mode.
			p.in <- message{kind: msgBackfillDone, err: e.backfillErr}
		}
		monitoring.Debugf("sensor %s: pipeline created", sensorID)
	}
	p.in <- msg
	e.mu.Unlock()
}

// runPipeline is the single logical task owning one sensor's state.
func (e *Engine) runPipeline(p *pipeline) {
	defer e.wg.Done()

	for msg := range p.in {
		var released []Reading
		switch msg.kind {
		case msgHistorical:
			released = p.fusion.PushHistorical(msg.reading)
		case msgLive:
			released = p.fusion.PushLive(msg.reading)
		case msgBackfillDone:
			released = p.fusion.FinishBackfill(msg.err)
		case msgTick:
			released = p.fusion.ReleaseExpired()
		case msgStatus:
			msg.reply <- SensorStatus{
				SensorID: p.sensorID,
				State:    p.classifier.State(),
				Note:     p.classifier.Note(),
				Stats:    p.tracker.Snapshot(),
				Cursor:   p.fusion.Cursor(),
			}
			continue
		}
		e.process(p, released)
	}

	// Input closed: flush held readings through the chain, then force-close
	// any open event.
	e.process(p, p.fusion.FinishBackfill(nil))
	for _, ev := range p.classifier.Flush() {
		e.eventsClosed.Add(1)
		e.events <- ev
	}
}

func (e *Engine) process(p *pipeline, released []Reading) {
	for _, r := range released {
		e.fused.Add(1)
		if r.Gap {
			e.gapMarkers.Add(1)
		}
		stats := p.tracker.Observe(r)
		if e.trace != nil {
			e.trace(r, stats)
		}
		for _, ev := range p.classifier.Observe(r, stats) {
			if ev.Closed() {
				e.eventsClosed.Add(1)
			} else {
				e.eventsOpened.Add(1)
			}
			e.events <- ev
		}
	}
}
