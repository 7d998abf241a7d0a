package governance

import (
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	minPrice = decimal.RequireFromString("0.01")
)

// DeriveOrder sizes a limit buy for the signal against the given balance:
// price_cents = round(price*100), contracts = clamp(floor(size*balance/max(price, 0.01)), 1, maxContracts).
func DeriveOrder(sig model.RiskScoredSignal, balance float64, maxContracts int64) model.OrderRequest {
	price := decimal.NewFromFloat(sig.CurrentPrice)
	priceCents := price.Mul(hundred).Round(0).IntPart()

	divisor := decimal.Max(price, minPrice)
	contracts := decimal.NewFromFloat(sig.RecommendedSize).
		Mul(decimal.NewFromFloat(balance)).
		Div(divisor).
		Floor().
		IntPart()
	if maxContracts > 0 && contracts > maxContracts {
		contracts = maxContracts
	}
	if contracts < 1 {
		contracts = 1
	}

	return model.OrderRequest{
		Ticker:         sig.MarketID,
		Side:           sig.Outcome,
		Action:         "buy",
		Type:           "limit",
		Count:          contracts,
		PriceCents:     priceCents,
		TotalCostCents: priceCents * contracts,
		SignalID:       sig.SignalID,
	}
}
