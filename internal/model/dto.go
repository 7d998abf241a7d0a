package model

// ScoreRequest is the body of POST /v1/signals and POST /v1/pipeline/run.
type ScoreRequest struct {
	Positions    map[string][]Position `json:"positions" binding:"required"`
	Profiles     []ParticipantProfile  `json:"profiles"`
	Stats        []ParticipantStats    `json:"participant_stats"` // ranked when Profiles is empty
	PriceHistory map[string][]float64  `json:"price_history"`     // keyed by market id, most recent last
	Exposure     float64               `json:"exposure"`          // fraction already committed
}

// ExecutionInput is the body of POST /v1/governance/executions.
type ExecutionInput struct {
	EvaluationID    string   `json:"evaluation_id" binding:"required"`
	ActualCostCents int64    `json:"actual_cost_cents"`
	RealizedPnL     *float64 `json:"realized_pnl,omitempty"`
}

// KillSwitchInput is the body of POST /v1/kill-switch.
type KillSwitchInput struct {
	Reason string `json:"reason" binding:"required"`
}

// PricePointsInput is the body of POST /v1/markets/:id/prices.
type PricePointsInput struct {
	Prices []float64 `json:"prices" binding:"required"`
}
