package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds every runtime-adjustable threshold of the anomaly engine.
// All fields are pointers so a partial JSON file only overrides what it names;
// the Get* accessors fall back to documented defaults for nil fields. The same
// schema is accepted by the /api/params endpoint for runtime updates.
type TuningConfig struct {
	// Classifier thresholds
	ExpectedMinC          *float64 `json:"expected_min_c,omitempty"`
	ExpectedMaxC          *float64 `json:"expected_max_c,omitempty"`
	MarginC               *float64 `json:"margin_c,omitempty"`
	SlopeThresholdCPerMin *float64 `json:"slope_threshold_c_per_min,omitempty"`
	WarmingSamples        *int     `json:"warming_samples,omitempty"`
	WarmingGracePeriod    *string  `json:"warming_grace_period,omitempty"` // duration string like "10m"
	RecoveryHoldPeriod    *string  `json:"recovery_hold_period,omitempty"` // duration string like "15m"
	MinSamples            *int     `json:"min_samples,omitempty"`

	// Rolling window bounds
	WindowDuration *string `json:"window_duration,omitempty"` // duration string like "60m"
	WindowMaxCount *int    `json:"window_max_count,omitempty"`

	// Fusion params
	SamplingInterval  *string  `json:"sampling_interval,omitempty"`  // expected sensor cadence, e.g. "5m"
	EqualityTolerance *string  `json:"equality_tolerance,omitempty"` // dup collapse window; default interval/2
	GapFactor         *float64 `json:"gap_factor,omitempty"`         // gap = factor * tracked interval
	LiveHoldTimeout   *string  `json:"live_hold_timeout,omitempty"`  // max hold while backfill drains
}

// Defaults. The numeric choices follow typical cold-room practice: storage is
// kept at or below 4°C and wireless sensors report every few minutes.
const (
	DefaultExpectedMinC          = -30.0
	DefaultExpectedMaxC          = 4.0
	DefaultMarginC               = 1.0
	DefaultSlopeThresholdCPerMin = 0.2
	DefaultWarmingSamples        = 2
	DefaultWarmingGracePeriod    = 10 * time.Minute
	DefaultRecoveryHoldPeriod    = 15 * time.Minute
	DefaultMinSamples            = 3
	DefaultWindowDuration        = 60 * time.Minute
	DefaultWindowMaxCount        = 720
	DefaultSamplingInterval      = 5 * time.Minute
	DefaultGapFactor             = 3.0
	DefaultLiveHoldTimeout       = 30 * time.Second
)

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Merge overlays non-nil fields of other onto c. Used for runtime updates.
func (c *TuningConfig) Merge(other *TuningConfig) {
	if other == nil {
		return
	}
	if other.ExpectedMinC != nil {
		c.ExpectedMinC = other.ExpectedMinC
	}
	if other.ExpectedMaxC != nil {
		c.ExpectedMaxC = other.ExpectedMaxC
	}
	if other.MarginC != nil {
		c.MarginC = other.MarginC
	}
	if other.SlopeThresholdCPerMin != nil {
		c.SlopeThresholdCPerMin = other.SlopeThresholdCPerMin
	}
	if other.WarmingSamples != nil {
		c.WarmingSamples = other.WarmingSamples
	}
	if other.WarmingGracePeriod != nil {
		c.WarmingGracePeriod = other.WarmingGracePeriod
	}
	if other.RecoveryHoldPeriod != nil {
		c.RecoveryHoldPeriod = other.RecoveryHoldPeriod
	}
	if other.MinSamples != nil {
		c.MinSamples = other.MinSamples
	}
	if other.WindowDuration != nil {
		c.WindowDuration = other.WindowDuration
	}
	if other.WindowMaxCount != nil {
		c.WindowMaxCount = other.WindowMaxCount
	}
	if other.SamplingInterval != nil {
		c.SamplingInterval = other.SamplingInterval
	}
	if other.EqualityTolerance != nil {
		c.EqualityTolerance = other.EqualityTolerance
	}
	if other.GapFactor != nil {
		c.GapFactor = other.GapFactor
	}
	if other.LiveHoldTimeout != nil {
		c.LiveHoldTimeout = other.LiveHoldTimeout
	}
}

// Validate checks ranges and duration syntax.
func (c *TuningConfig) Validate() error {
	if c.ExpectedMinC != nil && c.ExpectedMaxC != nil && *c.ExpectedMinC >= *c.ExpectedMaxC {
		return fmt.Errorf("expected_min_c (%v) must be below expected_max_c (%v)", *c.ExpectedMinC, *c.ExpectedMaxC)
	}
	if c.MarginC != nil && *c.MarginC < 0 {
		return fmt.Errorf("margin_c must be non-negative, got %v", *c.MarginC)
	}
	if c.SlopeThresholdCPerMin != nil && *c.SlopeThresholdCPerMin <= 0 {
		return fmt.Errorf("slope_threshold_c_per_min must be positive, got %v", *c.SlopeThresholdCPerMin)
	}
	if c.WarmingSamples != nil && *c.WarmingSamples < 1 {
		return fmt.Errorf("warming_samples must be at least 1, got %d", *c.WarmingSamples)
	}
	if c.MinSamples != nil && *c.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1, got %d", *c.MinSamples)
	}
	if c.WindowMaxCount != nil && *c.WindowMaxCount < 3 {
		return fmt.Errorf("window_max_count must be at least 3, got %d", *c.WindowMaxCount)
	}
	if c.GapFactor != nil && *c.GapFactor <= 1 {
		return fmt.Errorf("gap_factor must be above 1, got %v", *c.GapFactor)
	}
	for name, field := range map[string]*string{
		"warming_grace_period": c.WarmingGracePeriod,
		"recovery_hold_period": c.RecoveryHoldPeriod,
		"window_duration":      c.WindowDuration,
		"sampling_interval":    c.SamplingInterval,
		"equality_tolerance":   c.EqualityTolerance,
		"live_hold_timeout":    c.LiveHoldTimeout,
	} {
		if field == nil {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, *field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", name, *field)
		}
	}
	return nil
}

func (c *TuningConfig) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetExpectedMinC returns the lower bound of the normal temperature band.
func (c *TuningConfig) GetExpectedMinC() float64 {
	if c.ExpectedMinC == nil {
		return DefaultExpectedMinC
	}
	return *c.ExpectedMinC
}

// GetExpectedMaxC returns the hard upper temperature threshold.
func (c *TuningConfig) GetExpectedMaxC() float64 {
	if c.ExpectedMaxC == nil {
		return DefaultExpectedMaxC
	}
	return *c.ExpectedMaxC
}

// GetMarginC returns the hysteresis margin below the hard threshold.
func (c *TuningConfig) GetMarginC() float64 {
	if c.MarginC == nil {
		return DefaultMarginC
	}
	return *c.MarginC
}

// GetSlopeThresholdCPerMin returns the short-term slope trigger.
func (c *TuningConfig) GetSlopeThresholdCPerMin() float64 {
	if c.SlopeThresholdCPerMin == nil {
		return DefaultSlopeThresholdCPerMin
	}
	return *c.SlopeThresholdCPerMin
}

// GetWarmingSamples returns how many WARMING readings must accumulate before
// a hard-threshold crossing escalates to ANOMALOUS.
func (c *TuningConfig) GetWarmingSamples() int {
	if c.WarmingSamples == nil {
		return DefaultWarmingSamples
	}
	return *c.WarmingSamples
}

// GetWarmingGracePeriod returns how long a sensor may sit above the soft
// threshold before WARMING escalates to ANOMALOUS.
func (c *TuningConfig) GetWarmingGracePeriod() time.Duration {
	return c.duration(c.WarmingGracePeriod, DefaultWarmingGracePeriod)
}

// GetRecoveryHoldPeriod returns the sustained-below-threshold period required
// before RECOVERING settles back to NORMAL.
func (c *TuningConfig) GetRecoveryHoldPeriod() time.Duration {
	return c.duration(c.RecoveryHoldPeriod, DefaultRecoveryHoldPeriod)
}

// GetMinSamples returns the sample count required before classification starts.
func (c *TuningConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return DefaultMinSamples
	}
	return *c.MinSamples
}

// GetWindowDuration returns the time bound of the rolling window.
func (c *TuningConfig) GetWindowDuration() time.Duration {
	return c.duration(c.WindowDuration, DefaultWindowDuration)
}

// GetWindowMaxCount returns the count cap of the rolling window.
func (c *TuningConfig) GetWindowMaxCount() int {
	if c.WindowMaxCount == nil {
		return DefaultWindowMaxCount
	}
	return *c.WindowMaxCount
}

// GetSamplingInterval returns the expected sensor reporting cadence used
// before enough inter-arrival samples exist to track it.
func (c *TuningConfig) GetSamplingInterval() time.Duration {
	return c.duration(c.SamplingInterval, DefaultSamplingInterval)
}

// GetEqualityTolerance returns the duplicate-collapse window. Defaults to half
// the sampling interval.
func (c *TuningConfig) GetEqualityTolerance() time.Duration {
	if c.EqualityTolerance == nil {
		return c.GetSamplingInterval() / 2
	}
	return c.duration(c.EqualityTolerance, c.GetSamplingInterval()/2)
}

// GetGapFactor returns the inter-arrival multiple that counts as a data gap.
func (c *TuningConfig) GetGapFactor() float64 {
	if c.GapFactor == nil {
		return DefaultGapFactor
	}
	return *c.GapFactor
}

// GetLiveHoldTimeout returns the maximum time a live reading is held while
// waiting for historical backfill to drain past its timestamp.
func (c *TuningConfig) GetLiveHoldTimeout() time.Duration {
	return c.duration(c.LiveHoldTimeout, DefaultLiveHoldTimeout)
}
