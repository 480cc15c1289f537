package engine

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cxd309/tms-dispatch/internal/dispatch"
	"github.com/cxd309/tms-dispatch/internal/kpi"
	"github.com/cxd309/tms-dispatch/internal/timeutil"
)

// Config holds engine configuration. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	// Logger receives lifecycle, disruption and decision events.
	// Default: zerolog.Nop()
	Logger zerolog.Logger

	// MeterProvider provides the engine's instruments.
	// Default: otel.GetMeterProvider()
	MeterProvider metric.MeterProvider

	// Clock paces the frame loop.
	// Default: timeutil.RealClock{}
	Clock timeutil.Clock

	// FrameInterval is the wall time between frames while running.
	// Default: 50ms
	FrameInterval time.Duration

	// MaxFrameDelta caps the wall time converted into one tick, so a stalled
	// process does not produce one huge jump.
	// Default: 250ms
	MaxFrameDelta time.Duration

	// SimMinutesPerSecond is how many simulated minutes pass per wall second
	// at speed multiplier 1.
	// Default: 1
	SimMinutesPerSecond float64

	// SpeedMultiplier is the initial speed multiplier.
	// Default: 1
	SpeedMultiplier float64

	// RecommendIntervalMin is the sim time between recommendation refreshes.
	// Applying or overriding a decision and changing disruptions always
	// refresh immediately.
	// Default: 1
	RecommendIntervalMin float64

	// DisableRecommendations turns the recommender off.
	DisableRecommendations bool

	Dispatch dispatch.Config
	KPI      kpi.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Logger:               zerolog.Nop(),
		Clock:                timeutil.RealClock{},
		FrameInterval:        50 * time.Millisecond,
		MaxFrameDelta:        250 * time.Millisecond,
		SimMinutesPerSecond:  1,
		SpeedMultiplier:      1,
		RecommendIntervalMin: 1,
		Dispatch:             dispatch.DefaultConfig(),
		KPI:                  kpi.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = def.FrameInterval
	}
	if c.MaxFrameDelta <= 0 {
		c.MaxFrameDelta = def.MaxFrameDelta
	}
	if c.SimMinutesPerSecond <= 0 {
		c.SimMinutesPerSecond = def.SimMinutesPerSecond
	}
	if c.SpeedMultiplier <= 0 {
		c.SpeedMultiplier = def.SpeedMultiplier
	}
	if c.RecommendIntervalMin <= 0 {
		c.RecommendIntervalMin = def.RecommendIntervalMin
	}
	return c
}
