package model

// CandidateSignal is one (market, outcome) group that met the consensus thresholds.
type CandidateSignal struct {
	SignalID          string   `json:"signal_id"`
	MarketID          string   `json:"market_id"`
	MarketTitle       string   `json:"market_title"`
	Outcome           string   `json:"outcome"`
	Conviction        float64  `json:"conviction"` // ParticipantCount / TotalParticipants
	ParticipantCount  int      `json:"participant_count"`
	TotalParticipants int      `json:"total_participants"`
	AggregateNotional float64  `json:"aggregate_notional"`
	AvgEntryPrice     float64  `json:"avg_entry_price"` // volume weighted
	CurrentPrice      float64  `json:"current_price"`
	ExpectedEdge      float64  `json:"expected_edge"`
	Participants      []string `json:"participants,omitempty"`
}

// EntryQuality classifies how far price has run since the average participant entry.
type EntryQuality string

const (
	EntryGood     EntryQuality = "good"
	EntryFair     EntryQuality = "fair"
	EntryLate     EntryQuality = "late"
	EntryVeryLate EntryQuality = "very_late"
	EntryUnknown  EntryQuality = "unknown"
)

// Rank orders qualities from best (0) to worst; unknown sorts last.
func (q EntryQuality) Rank() int {
	switch q {
	case EntryGood:
		return 0
	case EntryFair:
		return 1
	case EntryLate:
		return 2
	case EntryVeryLate:
		return 3
	default:
		return 4
	}
}

// Regime is the prevailing market condition tag.
type Regime string

const (
	RegimeCalm     Regime = "calm"
	RegimeVolatile Regime = "volatile"
	RegimeTrending Regime = "trending"
	RegimeChoppy   Regime = "choppy"
)

// RiskScoredSignal is a CandidateSignal after the stabilizer.
type RiskScoredSignal struct {
	CandidateSignal

	RawARSConviction  float64      `json:"raw_ars_conviction"` // min(n/10, 1)
	ARSConviction     float64      `json:"ars_conviction"`
	AvgConsistency    float64      `json:"avg_consistency"`
	RecommendedSize   float64      `json:"recommended_size"` // fraction of portfolio
	EntryQuality      EntryQuality `json:"entry_quality"`
	EntryQualityScore float64      `json:"entry_quality_score"`
	Regime            Regime       `json:"regime"`
	RegimeFactor      float64      `json:"regime_factor"`
	ARSScore          float64      `json:"ars_score"`
	OutliersRemoved   int          `json:"outliers_removed"`
	Category          string       `json:"category,omitempty"`
}
