package governance

import (
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/shopspring/decimal"
)

const (
	dayWindow  = 24 * time.Hour
	weekWindow = 7 * 24 * time.Hour
)

// Trade is one recorded execution in the spend ledger.
type Trade struct {
	EvaluationID string    `json:"evaluation_id"`
	At           time.Time `json:"at"`
	CostCents    int64     `json:"cost_cents"`
	PnL          *float64  `json:"pnl,omitempty"`
}

// FinancialState is the engine's running memory. It is owned by exactly one Engine and
// never shared; ExportState hands out copies.
type FinancialState struct {
	Balance           float64 `json:"current_balance"`
	PeakBalance       float64 `json:"peak_balance"`
	TotalPnL          float64 `json:"total_pnl"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	TotalTransactions int     `json:"total_transactions"`
	KillSwitchActive  bool    `json:"kill_switch_active"`
	KillSwitchReason  string  `json:"kill_switch_reason,omitempty"`

	// Ledger only keeps trades inside the weekly window.
	Ledger []Trade `json:"ledger"`
}

func NewFinancialState(initialBalance float64) FinancialState {
	return FinancialState{
		Balance:     initialBalance,
		PeakBalance: initialBalance,
		Ledger:      make([]Trade, 0),
	}
}

// SpendSince sums ledger costs at or after since.
func (s *FinancialState) SpendSince(since time.Time) int64 {
	var total int64
	for _, t := range s.Ledger {
		if !t.At.Before(since) {
			total += t.CostCents
		}
	}
	return total
}

// Drawdown is the fractional decline from the peak balance; 0 when no peak exists.
func (s *FinancialState) Drawdown() float64 {
	if s.PeakBalance <= 0 {
		return 0
	}
	return (s.PeakBalance - s.Balance) / s.PeakBalance
}

// BalanceCents truncates the balance to whole cents.
func (s *FinancialState) BalanceCents() int64 {
	return decimal.NewFromFloat(s.Balance).Shift(2).IntPart()
}

func (s *FinancialState) record(t Trade, now time.Time) {
	s.Balance = decimal.NewFromFloat(s.Balance).Sub(decimal.New(t.CostCents, -2)).InexactFloat64()
	if s.Balance > s.PeakBalance {
		s.PeakBalance = s.Balance
	}
	if t.PnL != nil {
		s.TotalPnL = decimal.NewFromFloat(s.TotalPnL).Add(decimal.NewFromFloat(*t.PnL)).InexactFloat64()
		if *t.PnL < 0 {
			s.ConsecutiveLosses++
		} else {
			s.ConsecutiveLosses = 0
		}
	}
	s.TotalTransactions++
	s.Ledger = append(s.Ledger, t)
	s.prune(now)
}

func (s *FinancialState) prune(now time.Time) {
	cutoff := now.Add(-weekWindow)
	kept := s.Ledger[:0]
	for _, t := range s.Ledger {
		if !t.At.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.Ledger = kept
}

func (s *FinancialState) snapshot(now time.Time) model.FinancialSnapshot {
	dd := decimal.NewFromFloat(s.Drawdown() * 100).Round(1).InexactFloat64()
	return model.FinancialSnapshot{
		CurrentBalance:    s.Balance,
		PeakBalance:       s.PeakBalance,
		TotalPnL:          s.TotalPnL,
		DailySpendCents:   s.SpendSince(now.Add(-dayWindow)),
		WeeklySpendCents:  s.SpendSince(now.Add(-weekWindow)),
		DrawdownPct:       dd,
		ConsecutiveLosses: s.ConsecutiveLosses,
		TotalTransactions: s.TotalTransactions,
		KillSwitchActive:  s.KillSwitchActive,
		KillSwitchReason:  s.KillSwitchReason,
	}
}

func (s FinancialState) clone() FinancialState {
	out := s
	out.Ledger = make([]Trade, len(s.Ledger))
	copy(out.Ledger, s.Ledger)
	return out
}
