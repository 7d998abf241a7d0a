package governance

import (
	"fmt"
	"slices"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
)

const (
	RuleKillSwitch        = "kill_switch"
	RuleDrawdown          = "drawdown_monitor"
	RuleConsecutiveLosses = "consecutive_losses"
	RuleEntryQuality      = "entry_quality_filter"
	RuleARSScore          = "ars_score_minimum"
	RuleConviction        = "conviction_minimum"
	RulePerTrade          = "per_trade_limit"
	RuleDailySpend        = "daily_spend_limit"
	RuleWeeklySpend       = "weekly_spend_limit"
	RuleBalance           = "sufficient_balance"
	RuleTradingHours      = "trading_hours"
)

// evalContext is what every check sees. Only the drawdown check writes to state.
type evalContext struct {
	cfg    Config
	state  *FinancialState
	signal model.RiskScoredSignal
	order  model.OrderRequest
	now    time.Time
}

type rule struct {
	id    string
	name  string
	typ   model.RuleType
	check func(ec *evalContext) (bool, string, map[string]any)
}

// battery is evaluated in order and never short-circuits.
var battery = []rule{
	{RuleKillSwitch, "Kill Switch", model.RuleTypeKillSwitch, checkKillSwitch},
	{RuleDrawdown, "Drawdown Kill Switch", model.RuleTypeKillSwitch, checkDrawdown},
	{RuleConsecutiveLosses, "Consecutive Loss Limit", model.RuleTypeKillSwitch, checkConsecutiveLosses},
	{RuleEntryQuality, "Entry Quality Filter", model.RuleTypeSignalFilter, checkEntryQuality},
	{RuleARSScore, "ARS Score Minimum", model.RuleTypeSignalFilter, checkARSScore},
	{RuleConviction, "Participant Conviction Minimum", model.RuleTypeSignalFilter, checkConviction},
	{RulePerTrade, "Per-Trade Spend Limit", model.RuleTypePerTransaction, checkPerTrade},
	{RuleDailySpend, "Daily Spend Limit", model.RuleTypeDailyLimit, checkDailySpend},
	{RuleWeeklySpend, "Weekly Spend Limit", model.RuleTypeWeeklyLimit, checkWeeklySpend},
	{RuleBalance, "Sufficient Balance", model.RuleTypeBalanceCheck, checkBalance},
	{RuleTradingHours, "Trading Hours Window", model.RuleTypeTimeWindow, checkTradingHours},
}

// RuleCount is the number of evaluations every result carries.
var RuleCount = len(battery)

func runBattery(ec *evalContext) []model.RuleEvaluation {
	out := make([]model.RuleEvaluation, 0, len(battery))
	for _, r := range battery {
		passed, reason, details := r.check(ec)
		out = append(out, model.RuleEvaluation{
			RuleID:   r.id,
			RuleName: r.name,
			RuleType: r.typ,
			Passed:   passed,
			Reason:   reason,
			Details:  details,
		})
	}
	return out
}

func checkKillSwitch(ec *evalContext) (bool, string, map[string]any) {
	active := ec.state.KillSwitchActive
	reason := "Kill switch not active"
	if active {
		reason = ec.state.KillSwitchReason
	}
	return !active, reason, map[string]any{"active": active}
}

// checkDrawdown latches the kill switch when the threshold is reached.
func checkDrawdown(ec *evalContext) (bool, string, map[string]any) {
	threshold := ec.cfg.DrawdownKillSwitchPct
	dd := ec.state.Drawdown()
	passed := dd < threshold
	if !passed && !ec.state.KillSwitchActive {
		ec.state.KillSwitchActive = true
		ec.state.KillSwitchReason = fmt.Sprintf("Drawdown %.1f%% exceeded threshold %.0f%%", dd*100, threshold*100)
	}
	return passed,
		fmt.Sprintf("Drawdown %.1f%% %s threshold %.0f%%", dd*100, cmp(passed, "<", "≥"), threshold*100),
		map[string]any{"drawdown": dd, "threshold": threshold}
}

func checkConsecutiveLosses(ec *evalContext) (bool, string, map[string]any) {
	limit := ec.cfg.ConsecutiveLossLimit
	current := ec.state.ConsecutiveLosses
	passed := current < limit
	return passed,
		fmt.Sprintf("%d consecutive losses %s limit of %d", current, cmp(passed, "<", "≥"), limit),
		map[string]any{"consecutive_losses": current, "limit": limit}
}

func checkEntryQuality(ec *evalContext) (bool, string, map[string]any) {
	allowed := ec.cfg.allowedQualities()
	q := ec.signal.EntryQuality
	passed := slices.Contains(allowed, q)
	return passed,
		fmt.Sprintf("Entry quality '%s' %s allowed: %v", q, cmp(passed, "is", "not in"), allowed),
		map[string]any{"entry_quality": q, "allowed": allowed}
}

func checkARSScore(ec *evalContext) (bool, string, map[string]any) {
	minimum := ec.cfg.MinARSScore
	score := ec.signal.ARSScore
	passed := score >= minimum
	return passed,
		fmt.Sprintf("ARS score %.2f %s minimum %.2f", score, cmp(passed, "≥", "<"), minimum),
		map[string]any{"ars_score": score, "minimum": minimum}
}

func checkConviction(ec *evalContext) (bool, string, map[string]any) {
	minimum := ec.cfg.MinConviction
	conv := ec.signal.Conviction
	passed := conv >= minimum
	return passed,
		fmt.Sprintf("Conviction %.0f%% %s minimum %.0f%%", conv*100, cmp(passed, "≥", "<"), minimum*100),
		map[string]any{"conviction": conv, "minimum": minimum}
}

func checkPerTrade(ec *evalContext) (bool, string, map[string]any) {
	limit := ec.cfg.MaxPerTradeCents
	cost := ec.order.TotalCostCents
	passed := cost <= limit
	return passed,
		fmt.Sprintf("Trade cost %s %s limit %s", dollars(cost), cmp(passed, "≤", ">"), dollars(limit)),
		map[string]any{"cost_cents": cost, "limit_cents": limit}
}

func checkDailySpend(ec *evalContext) (bool, string, map[string]any) {
	limit := ec.cfg.MaxDailySpendCents
	current := ec.state.SpendSince(ec.now.Add(-dayWindow))
	projected := current + ec.order.TotalCostCents
	passed := projected <= limit
	return passed,
		fmt.Sprintf("Daily spend %s %s limit %s (current: %s)", dollars(projected), cmp(passed, "≤", ">"), dollars(limit), dollars(current)),
		map[string]any{"current_cents": current, "projected_cents": projected, "limit_cents": limit}
}

func checkWeeklySpend(ec *evalContext) (bool, string, map[string]any) {
	limit := ec.cfg.MaxWeeklySpendCents
	current := ec.state.SpendSince(ec.now.Add(-weekWindow))
	projected := current + ec.order.TotalCostCents
	passed := projected <= limit
	return passed,
		fmt.Sprintf("Weekly spend %s %s limit %s", dollars(projected), cmp(passed, "≤", ">"), dollars(limit)),
		map[string]any{"current_cents": current, "projected_cents": projected, "limit_cents": limit}
}

func checkBalance(ec *evalContext) (bool, string, map[string]any) {
	balance := ec.state.BalanceCents()
	cost := ec.order.TotalCostCents
	passed := cost <= balance
	return passed,
		fmt.Sprintf("Balance %s %s cost %s", dollars(balance), cmp(passed, "≥", "<"), dollars(cost)),
		map[string]any{"balance_cents": balance, "cost_cents": cost}
}

// checkTradingHours accepts windows that wrap midnight (start > end).
func checkTradingHours(ec *evalContext) (bool, string, map[string]any) {
	loc := ec.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := ec.now.In(loc).Hour()
	start, end := ec.cfg.TradingHoursStart, ec.cfg.TradingHoursEnd

	var passed bool
	if start <= end {
		passed = start <= hour && hour < end
	} else {
		passed = hour >= start || hour < end
	}
	return passed,
		fmt.Sprintf("Current hour %d %s %d:00-%d:00 %s", hour, cmp(passed, "within", "outside"), start, end, loc),
		map[string]any{"current_hour": hour, "start": start, "end": end, "location": loc.String()}
}

func cmp(passed bool, ok, fail string) string {
	if passed {
		return ok
	}
	return fail
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
