package engine

import "time"

// Source identifies which input path produced a reading.
type Source string

const (
	SourceHistorical Source = "historical" // paged backfill from the vendor API
	SourceLive       Source = "live"       // real-time event stream
	SourceSynthetic  Source = "synthetic"  // engine-generated markers
)

// Annotation flags attached to a reading by the fusion buffer.
type Annotation string

const (
	// AnnotGapTolerated marks a live reading released after the bounded hold
	// timeout expired before backfill drained past its timestamp.
	AnnotGapTolerated Annotation = "GAP_TOLERATED"
	// AnnotBackfillIncomplete marks the first reading released after the
	// historical source terminated with an error.
	AnnotBackfillIncomplete Annotation = "BACKFILL_INCOMPLETE"
)

// Reading is the canonical record all pipeline stages operate on. Immutable
// once created. Within a sensor's fused sequence, timestamps strictly increase.
type Reading struct {
	SensorID    string       `json:"sensor_id"`
	Timestamp   time.Time    `json:"timestamp"` // always UTC
	Temperature float64      `json:"temperature"`
	Source      Source       `json:"source"`
	Gap         bool         `json:"gap,omitempty"` // synthetic marker for a detected data gap, no temperature
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotated returns a copy of r carrying an additional annotation.
func (r Reading) Annotated(a Annotation) Reading {
	anns := make([]Annotation, 0, len(r.Annotations)+1)
	anns = append(anns, r.Annotations...)
	anns = append(anns, a)
	r.Annotations = anns
	return r
}

// HasAnnotation reports whether r carries the given annotation.
func (r Reading) HasAnnotation(a Annotation) bool {
	for _, have := range r.Annotations {
		if have == a {
			return true
		}
	}
	return false
}

// gapMarker builds the synthetic reading emitted into a detected gap. Its
// timestamp sits at the midpoint of the gap so sequence ordering stays strict.
func gapMarker(sensorID string, gapStart, gapEnd time.Time) Reading {
	mid := gapStart.Add(gapEnd.Sub(gapStart) / 2)
	return Reading{
		SensorID:  sensorID,
		Timestamp: mid,
		Source:    SourceSynthetic,
		Gap:       true,
	}
}
