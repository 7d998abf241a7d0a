package stabilizer

import (
	"math"

	"github.com/GoPolymarket/polysignal/internal/model"
)

// Classifier maps a most-recent-last price series to a regime. It must be pure.
type Classifier func(prices []float64) model.Regime

const (
	trendThreshold      = 0.1
	trendingMaxChop     = 0.3
	choppyMinChop       = 0.6
	defaultRegimePoints = 10
)

// DefaultClassifier classifies on volatility of simple returns, trend magnitude and the
// fraction of return sign changes over the last VolatilityLookback points.
func DefaultClassifier(cfg Config) Classifier {
	lookback := cfg.VolatilityLookback
	minPoints := cfg.MinRegimePoints
	if minPoints <= 0 {
		minPoints = defaultRegimePoints
	}
	highVol := cfg.HighVolatilityThreshold

	return func(prices []float64) model.Regime {
		if len(prices) < minPoints {
			return model.RegimeCalm
		}
		if lookback > 1 && len(prices) > lookback {
			prices = prices[len(prices)-lookback:]
		}
		for _, p := range prices {
			if p <= 0 || !finite(p) {
				return model.RegimeCalm
			}
		}

		returns := make([]float64, len(prices)-1)
		for i := 1; i < len(prices); i++ {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}

		volatility := stddev(returns)
		first, last := prices[0], prices[len(prices)-1]
		trend := math.Abs(last-first) / first

		changes := 0
		for i := 1; i < len(returns); i++ {
			if sign(returns[i]) != sign(returns[i-1]) {
				changes++
			}
		}
		choppiness := float64(changes) / float64(len(returns))

		switch {
		case volatility > highVol:
			return model.RegimeVolatile
		case trend > trendThreshold && choppiness < trendingMaxChop:
			return model.RegimeTrending
		case choppiness > choppyMinChop:
			return model.RegimeChoppy
		default:
			return model.RegimeCalm
		}
	}
}
