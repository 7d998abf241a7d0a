package model

import "time"

// RuleType groups rule checks; KILL_SWITCH failures escalate the decision.
type RuleType string

const (
	RuleTypeKillSwitch     RuleType = "KILL_SWITCH"
	RuleTypeSignalFilter   RuleType = "SIGNAL_FILTER"
	RuleTypePerTransaction RuleType = "PER_TRANSACTION_LIMIT"
	RuleTypeDailyLimit     RuleType = "DAILY_LIMIT"
	RuleTypeWeeklyLimit    RuleType = "WEEKLY_LIMIT"
	RuleTypeBalanceCheck   RuleType = "BALANCE_CHECK"
	RuleTypeTimeWindow     RuleType = "TIME_WINDOW"
)

// RuleEvaluation is one named rule's verdict.
type RuleEvaluation struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	RuleType RuleType       `json:"rule_type"`
	Passed   bool           `json:"passed"`
	Reason   string         `json:"reason"`
	Details  map[string]any `json:"details,omitempty"`
}

type GovernanceDecision string

const (
	DecisionApproved GovernanceDecision = "approved"
	DecisionBlocked  GovernanceDecision = "blocked"
	// DecisionRequiresApproval is reserved for an external approval collaborator.
	// No built-in rule produces it.
	DecisionRequiresApproval GovernanceDecision = "requires_approval"
	DecisionKillSwitched     GovernanceDecision = "kill_switched"
)

// Severity orders decisions for reporting only.
func (d GovernanceDecision) Severity() int {
	switch d {
	case DecisionKillSwitched:
		return 3
	case DecisionBlocked:
		return 2
	case DecisionRequiresApproval:
		return 1
	default:
		return 0
	}
}

// OrderRequest is handed verbatim to the execution collaborator.
type OrderRequest struct {
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Type           string `json:"type"`
	Count          int64  `json:"count"`
	PriceCents     int64  `json:"price_cents"`
	TotalCostCents int64  `json:"total_cost_cents"`
	SignalID       string `json:"signal_id,omitempty"`
}

// FinancialSnapshot is the read-only view of FinancialState after an evaluation.
type FinancialSnapshot struct {
	CurrentBalance    float64 `json:"current_balance"`
	PeakBalance       float64 `json:"peak_balance"`
	TotalPnL          float64 `json:"total_pnl"`
	DailySpendCents   int64   `json:"daily_spend_cents"`
	WeeklySpendCents  int64   `json:"weekly_spend_cents"`
	DrawdownPct       float64 `json:"drawdown_pct"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	TotalTransactions int     `json:"total_transactions"`
	KillSwitchActive  bool    `json:"kill_switch_active"`
	KillSwitchReason  string  `json:"kill_switch_reason,omitempty"`
}

// GovernanceResult is the immutable audit record of one evaluation.
type GovernanceResult struct {
	EvaluationID string             `json:"evaluation_id"`
	Signal       RiskScoredSignal   `json:"signal"`
	Decision     GovernanceDecision `json:"decision"`
	Rules        []RuleEvaluation   `json:"rules_evaluated"`
	OrderRequest *OrderRequest      `json:"order_request,omitempty"`
	State        FinancialSnapshot  `json:"wallet_state"`
	Timestamp    time.Time          `json:"timestamp"`
	LatencyMs    float64            `json:"latency_ms"`
}

// FailedRules returns the checks that did not pass, in battery order.
func (r GovernanceResult) FailedRules() []RuleEvaluation {
	failed := make([]RuleEvaluation, 0)
	for _, e := range r.Rules {
		if !e.Passed {
			failed = append(failed, e)
		}
	}
	return failed
}

// AuditEntry flattens the result for append-only logging.
func (r GovernanceResult) AuditEntry() AuditEntry {
	failed := r.FailedRules()
	blocking := make([]string, 0, len(failed))
	for _, e := range failed {
		blocking = append(blocking, e.RuleName)
	}
	entry := AuditEntry{
		EvaluationID:  r.EvaluationID,
		Event:         EventGovernanceEvaluation,
		Timestamp:     r.Timestamp,
		SignalID:      r.Signal.SignalID,
		Market:        r.Signal.MarketTitle,
		MarketID:      r.Signal.MarketID,
		Direction:     r.Signal.Outcome,
		Decision:      r.Decision,
		RulesChecked:  len(r.Rules),
		RulesFailed:   len(failed),
		BlockingRules: blocking,
		LatencyMs:     r.LatencyMs,
	}
	if r.OrderRequest != nil {
		v := r.OrderRequest.TotalCostCents
		entry.OrderValueCents = &v
	}
	return entry
}

// ExecutionReport is what the execution collaborator returns for a submitted order.
type ExecutionReport struct {
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	CostCents   int64     `json:"cost_cents"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	FilledAt    time.Time `json:"filled_at"`
}
