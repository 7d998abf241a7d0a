package stabilizer

import "github.com/GoPolymarket/polysignal/internal/model"

// ScoreWeights combine the three components of the final ARS score.
type ScoreWeights struct {
	ARSConviction        float64 `mapstructure:"ars_conviction"`
	EntryQuality         float64 `mapstructure:"entry_quality"`
	AggregatorConviction float64 `mapstructure:"aggregator_conviction"`
}

type Config struct {
	// Noise filtering
	OutlierStdThreshold float64
	MinSampleSize       int

	// Position sizing, as fractions of the portfolio
	BasePositionSize  float64
	MinPositionSize   float64
	MaxPositionSize   float64
	ConvictionScaling float64

	// Drawdown dampening
	MaxDailyDrawdown      float64
	MaxTotalDrawdown      float64
	DrawdownReductionRate float64

	// Regime detection
	VolatilityLookback      int
	MinRegimePoints         int
	HighVolatilityThreshold float64
	RegimeFactors           map[model.Regime]float64

	Weights ScoreWeights
}

func DefaultRegimeFactors() map[model.Regime]float64 {
	return map[model.Regime]float64{
		model.RegimeCalm:     1.0,
		model.RegimeVolatile: 0.5,
		model.RegimeTrending: 1.2,
		model.RegimeChoppy:   0.3,
	}
}

func DefaultWeights() ScoreWeights {
	return ScoreWeights{ARSConviction: 0.4, EntryQuality: 0.3, AggregatorConviction: 0.3}
}

func DefaultConfig() Config {
	return Config{
		OutlierStdThreshold:     2.0,
		MinSampleSize:           5,
		BasePositionSize:        0.05,
		MinPositionSize:         0.01,
		MaxPositionSize:         0.15,
		ConvictionScaling:       2.0,
		MaxDailyDrawdown:        0.10,
		MaxTotalDrawdown:        0.25,
		DrawdownReductionRate:   0.5,
		VolatilityLookback:      20,
		MinRegimePoints:         10,
		HighVolatilityThreshold: 0.3,
		RegimeFactors:           DefaultRegimeFactors(),
		Weights:                 DefaultWeights(),
	}
}

// Conservative sizes smaller and tolerates less drawdown.
func Conservative() Config {
	cfg := DefaultConfig()
	cfg.BasePositionSize = 0.03
	cfg.MaxPositionSize = 0.10
	cfg.MaxDailyDrawdown = 0.05
	cfg.MaxTotalDrawdown = 0.15
	cfg.ConvictionScaling = 1.5
	return cfg
}

func Aggressive() Config {
	cfg := DefaultConfig()
	cfg.BasePositionSize = 0.08
	cfg.MaxPositionSize = 0.20
	cfg.MaxDailyDrawdown = 0.15
	cfg.MaxTotalDrawdown = 0.35
	cfg.ConvictionScaling = 2.5
	return cfg
}

// Preset resolves a named preset; unknown names fall back to the default.
func Preset(name string) Config {
	switch name {
	case "conservative":
		return Conservative()
	case "aggressive":
		return Aggressive()
	default:
		return DefaultConfig()
	}
}

func (c Config) regimeFactor(r model.Regime) float64 {
	if f, ok := c.RegimeFactors[r]; ok {
		return f
	}
	return 1.0
}
