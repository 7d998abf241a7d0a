package market

// PriceSource supplies most-recent-last price series for regime detection.
type PriceSource interface {
	Series(marketID string) []float64
}

var _ PriceSource = (*HistoryStore)(nil)
