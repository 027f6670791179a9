package config

import "github.com/banshee-data/coldwatch/internal/engine"

// EngineParams resolves the config into the plain value set the engine
// consumes. Unset fields fall back to the documented defaults.
func (c *TuningConfig) EngineParams() engine.Params {
	return engine.Params{
		ExpectedMinC:          c.GetExpectedMinC(),
		ExpectedMaxC:          c.GetExpectedMaxC(),
		MarginC:               c.GetMarginC(),
		SlopeThresholdCPerMin: c.GetSlopeThresholdCPerMin(),
		WarmingSamples:        c.GetWarmingSamples(),
		WarmingGracePeriod:    c.GetWarmingGracePeriod(),
		RecoveryHoldPeriod:    c.GetRecoveryHoldPeriod(),
		MinSamples:            c.GetMinSamples(),
		WindowDuration:        c.GetWindowDuration(),
		WindowMaxCount:        c.GetWindowMaxCount(),
		SamplingInterval:      c.GetSamplingInterval(),
		EqualityTolerance:     c.GetEqualityTolerance(),
		GapFactor:             c.GetGapFactor(),
		LiveHoldTimeout:       c.GetLiveHoldTimeout(),
	}
}
