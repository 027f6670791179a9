package engine

import "time"

// Params holds the resolved tuning values the engine operates on. Values are
// plain (non-pointer); wiring code resolves them from the tuning config before
// construction. Classification depends only on reading timestamps, never on
// wall-clock polling frequency, so the same Params produce identical output on
// bursty backfill and real-time input.
type Params struct {
	// Classifier
	ExpectedMinC          float64       // lower bound of the normal band
	ExpectedMaxC          float64       // hard upper threshold
	MarginC               float64       // hysteresis margin below the hard threshold
	SlopeThresholdCPerMin float64       // short-term slope trigger
	WarmingSamples        int           // consecutive readings above soft threshold before WARMING
	WarmingGracePeriod    time.Duration // time above soft threshold before WARMING escalates
	RecoveryHoldPeriod    time.Duration // sustained time below threshold before NORMAL
	MinSamples            int           // readings required before classification starts

	// Rolling window
	WindowDuration time.Duration // time bound
	WindowMaxCount int           // count cap; effective bound is whichever is smaller

	// Fusion
	SamplingInterval  time.Duration // expected cadence before inter-arrival tracking warms up
	EqualityTolerance time.Duration // duplicate collapse window
	GapFactor         float64       // gap threshold as a multiple of the tracked interval
	LiveHoldTimeout   time.Duration // max hold for live readings awaiting backfill
}

// DefaultParams returns the documented default tuning. The numbers match the
// defaults in internal/config.
func DefaultParams() Params {
	return Params{
		ExpectedMinC:          -30.0,
		ExpectedMaxC:          4.0,
		MarginC:               1.0,
		SlopeThresholdCPerMin: 0.2,
		WarmingSamples:        2,
		WarmingGracePeriod:    10 * time.Minute,
		RecoveryHoldPeriod:    15 * time.Minute,
		MinSamples:            3,
		WindowDuration:        60 * time.Minute,
		WindowMaxCount:        720,
		SamplingInterval:      5 * time.Minute,
		EqualityTolerance:     150 * time.Second,
		GapFactor:             3.0,
		LiveHoldTimeout:       30 * time.Second,
	}
}
