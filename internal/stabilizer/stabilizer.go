// Package stabilizer implements the Adaptive Risk Stabilizer: outlier filtering,
// consistency weighting, regime classification and bounded position sizing.
package stabilizer

import (
	"math"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
)

// Supporter is one participant backing a candidate signal.
type Supporter struct {
	ParticipantID string  `json:"participant_id"`
	Notional      float64 `json:"notional"`
	PnL           float64 `json:"pnl"`
	WinRate       float64 `json:"win_rate"`
}

type Input struct {
	Signal       model.CandidateSignal
	Supporters   []Supporter
	PriceHistory []float64 // most recent last; optional
	Exposure     float64   // fraction of the portfolio already committed
	Drawdown     float64   // current drawdown fraction
}

type Stabilizer struct {
	cfg      Config
	classify Classifier
}

type Option func(*Stabilizer)

// WithClassifier swaps the regime strategy without touching sizing.
func WithClassifier(c Classifier) Option {
	return func(s *Stabilizer) {
		if c != nil {
			s.classify = c
		}
	}
}

func New(cfg Config, opts ...Option) *Stabilizer {
	if cfg.RegimeFactors == nil {
		cfg.RegimeFactors = DefaultRegimeFactors()
	}
	if cfg.MinRegimePoints <= 0 {
		cfg.MinRegimePoints = defaultRegimePoints
	}
	s := &Stabilizer{cfg: cfg}
	s.classify = DefaultClassifier(cfg)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stabilizer) Config() Config {
	return s.cfg
}

// Process scores one candidate. It is pure and safe for concurrent use.
func (s *Stabilizer) Process(in Input) (model.RiskScoredSignal, error) {
	if err := validate(in); err != nil {
		return model.RiskScoredSignal{}, err
	}

	n := len(in.Supporters)
	if n == 0 {
		n = in.Signal.ParticipantCount
	}
	rawConviction := math.Min(float64(n)/10, 1.0)

	notionals := make([]float64, len(in.Supporters))
	for i, sp := range in.Supporters {
		notionals[i] = sp.Notional
	}
	mask := outlierMask(notionals, s.cfg.OutlierStdThreshold, s.cfg.MinSampleSize)

	removed := 0
	consistency := make([]float64, 0, len(in.Supporters))
	for i, sp := range in.Supporters {
		if mask[i] {
			removed++
			continue
		}
		consistency = append(consistency, Consistency(sp))
	}
	avgConsistency := 0.5
	if len(consistency) > 0 {
		avgConsistency = mean(consistency)
	}

	regime := model.RegimeCalm
	if len(in.PriceHistory) >= s.cfg.MinRegimePoints {
		regime = s.classify(in.PriceHistory)
	}
	regimeFactor := s.cfg.regimeFactor(regime)

	arsConviction := clamp(rawConviction*avgConsistency*(0.5+0.5*regimeFactor), 0, 1)
	size := s.PositionSize(arsConviction, regimeFactor, in.Drawdown, in.Exposure)
	quality, qualityScore := EntryQuality(in.Signal.AvgEntryPrice, in.Signal.CurrentPrice)

	w := s.cfg.Weights
	score := w.ARSConviction*arsConviction + w.EntryQuality*qualityScore + w.AggregatorConviction*in.Signal.Conviction

	return model.RiskScoredSignal{
		CandidateSignal:   in.Signal,
		RawARSConviction:  rawConviction,
		ARSConviction:     arsConviction,
		AvgConsistency:    avgConsistency,
		RecommendedSize:   size,
		EntryQuality:      quality,
		EntryQualityScore: qualityScore,
		Regime:            regime,
		RegimeFactor:      regimeFactor,
		ARSScore:          score,
		OutliersRemoved:   removed,
	}, nil
}

// Consistency estimates reliability from win rate and the sign of realised P&L.
func Consistency(sp Supporter) float64 {
	c := 0.6 * sp.WinRate
	if sp.PnL > 0 {
		c += 0.4
	}
	return c
}

// PositionSize returns a portfolio fraction clamped to [MinPositionSize, MaxPositionSize]
// and then capped at the remaining capacity 1 - exposure. When remaining capacity is
// below the minimum the cap wins.
func (s *Stabilizer) PositionSize(conviction, regimeFactor, drawdown, exposure float64) float64 {
	size := s.cfg.BasePositionSize * (1 + (conviction-0.5)*s.cfg.ConvictionScaling)
	size *= regimeFactor
	size *= s.drawdownFactor(drawdown)

	size = clamp(size, s.cfg.MinPositionSize, s.cfg.MaxPositionSize)
	capacity := math.Max(1-exposure, 0)
	if size > capacity {
		size = capacity
	}
	return size
}

func (s *Stabilizer) drawdownFactor(drawdown float64) float64 {
	if drawdown <= s.cfg.MaxDailyDrawdown/2 || s.cfg.MaxTotalDrawdown <= 0 {
		return 1.0
	}
	return math.Max(1-drawdown/s.cfg.MaxTotalDrawdown, s.cfg.DrawdownReductionRate)
}

// EntryQuality grades how far price has moved from the average entry.
func EntryQuality(avgEntry, current float64) (model.EntryQuality, float64) {
	if avgEntry <= 0 || current <= 0 {
		return model.EntryUnknown, 0.5
	}
	move := (current - avgEntry) / avgEntry
	switch {
	case move < 0.15:
		return model.EntryGood, 1.0
	case move < 0.5:
		return model.EntryFair, 0.7
	case move < 1.0:
		return model.EntryLate, 0.4
	default:
		return model.EntryVeryLate, 0.1
	}
}

func validate(in Input) error {
	if in.Signal.MarketID == "" {
		return apperrors.Preconditionf("signal market id is required")
	}
	if !finite(in.Exposure) || in.Exposure < 0 || in.Exposure > 1 {
		return apperrors.Preconditionf("exposure %v outside [0,1]", in.Exposure)
	}
	if !finite(in.Drawdown) || in.Drawdown < 0 {
		return apperrors.Preconditionf("drawdown %v must be a non-negative number", in.Drawdown)
	}
	if !finite(in.Signal.Conviction) || !finite(in.Signal.AvgEntryPrice) || !finite(in.Signal.CurrentPrice) {
		return apperrors.Preconditionf("signal %s carries non-finite values", in.Signal.MarketID)
	}
	for _, sp := range in.Supporters {
		if !finite(sp.Notional) || !finite(sp.PnL) || !finite(sp.WinRate) {
			return apperrors.Preconditionf("supporter %s carries non-finite values", sp.ParticipantID)
		}
		if sp.WinRate < 0 || sp.WinRate > 1 {
			return apperrors.Preconditionf("supporter %s win rate %v outside [0,1]", sp.ParticipantID, sp.WinRate)
		}
	}
	for _, p := range in.PriceHistory {
		if !finite(p) {
			return apperrors.Preconditionf("price history for %s contains non-finite values", in.Signal.MarketID)
		}
	}
	return nil
}
