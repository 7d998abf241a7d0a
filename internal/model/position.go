package model

// Position is one participant's holding in one market outcome at a point in time.
// Produced by a market-data collaborator; the core never mutates it.
type Position struct {
	ParticipantID string  `json:"participant_id" binding:"required"`
	MarketID      string  `json:"market_id" binding:"required"`
	MarketTitle   string  `json:"market_title"`
	Outcome       string  `json:"outcome" binding:"required"`
	Quantity      float64 `json:"quantity"`        // shares
	AvgEntryPrice float64 `json:"avg_entry_price"` // 0-1
	CurrentPrice  float64 `json:"current_price"`   // 0-1
	CurrentValue  float64 `json:"current_value"`   // USD
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PnL is the combined realized and unrealized result of the holding.
func (p Position) PnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL
}

// ParticipantStats is the raw leaderboard line a profile is derived from.
type ParticipantStats struct {
	ParticipantID string  `json:"participant_id"`
	DisplayName   string  `json:"display_name"`
	Profit        float64 `json:"profit"`
	Volume        float64 `json:"volume"`
}

// ParticipantProfile ranks a participant. Score only decides eligibility for aggregation.
type ParticipantProfile struct {
	ParticipantID string  `json:"participant_id"`
	DisplayName   string  `json:"display_name"`
	Profit        float64 `json:"profit"`
	Volume        float64 `json:"volume"`
	Efficiency    float64 `json:"efficiency"` // profit / volume
	Score         float64 `json:"score"`
}
