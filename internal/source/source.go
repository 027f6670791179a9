// Package source provides the data-delivery collaborators the engine consumes:
// the vendor HTTP API (paged history + server-sent-event live stream) and
// local file recordings. The engine itself only ever sees raw records through
// the two interfaces below; transport, paging and authentication stay here.
package source

import (
	"context"

	"github.com/banshee-data/coldwatch/internal/engine"
)

// Handler receives one raw record. Returning an error aborts the stream.
type Handler func(rec engine.RawRecord) error

// HistoricalSource delivers a bounded, time-ascending sequence of raw records.
// Page boundaries are transparent to the caller.
type HistoricalSource interface {
	Events(ctx context.Context, handler Handler) error
}

// LiveSource delivers an unbounded sequence of raw records as they occur.
// Implementations reconnect on transport failure without the caller's
// involvement; any replayed overlap is deduplicated downstream.
type LiveSource interface {
	Stream(ctx context.Context, handler Handler) error
}

// Credentials is the immutable service-account configuration for the vendor
// API. It is passed into source constructors and never reaches the engine.
type Credentials struct {
	Key       string
	Secret    string
	ProjectID string
}

// Batch adapts an in-memory slice of raw records to HistoricalSource. Used by
// file replays and tests.
type Batch []engine.RawRecord

// Events delivers the batch in slice order.
func (b Batch) Events(ctx context.Context, handler Handler) error {
	for _, rec := range b {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
	return nil
}

// Stream delivers the batch in slice order, then returns. It lets a recording
// stand in for the live feed during replays.
func (b Batch) Stream(ctx context.Context, handler Handler) error {
	return b.Events(ctx, handler)
}
