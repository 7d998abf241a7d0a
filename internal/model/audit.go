package model

import (
	"time"
)

const (
	EventGovernanceEvaluation = "GOVERNANCE_EVALUATION"
	EventKillSwitchActivated  = "KILL_SWITCH_ACTIVATED"
	EventKillSwitchReset      = "KILL_SWITCH_RESET"
	EventTradeExecuted        = "TRADE_EXECUTED"
)

// AuditEntry 代表一条只追加的审计记录 (评估结果或 kill switch 事件)
type AuditEntry struct {
	EvaluationID string    `json:"evaluation_id" gorm:"primaryKey;type:text"`
	Event        string    `json:"event" gorm:"index;type:text"`
	Timestamp    time.Time `json:"timestamp" gorm:"index"`

	// 评估详情
	SignalID        string             `json:"signal_id,omitempty"`
	Market          string             `json:"market,omitempty"`
	MarketID        string             `json:"market_id,omitempty"`
	Direction       string             `json:"direction,omitempty"`
	Decision        GovernanceDecision `json:"decision,omitempty" gorm:"type:text"`
	RulesChecked    int                `json:"rules_checked,omitempty"`
	RulesFailed     int                `json:"rules_failed,omitempty"`
	BlockingRules   []string           `json:"blocking_rules,omitempty" gorm:"serializer:json"`
	OrderValueCents *int64             `json:"order_value_cents,omitempty"`
	LatencyMs       float64            `json:"latency_ms,omitempty"`

	// Kill switch / execution events
	Reason       string         `json:"reason,omitempty"`
	AuthorizedBy string         `json:"authorized_by,omitempty"`
	Detail       map[string]any `json:"detail,omitempty" gorm:"serializer:json"`
}

// AuditFilter narrows audit queries. Zero values mean "any".
type AuditFilter struct {
	Event string
	Limit int
	From  *time.Time
	To    *time.Time
}

// Match reports whether the entry passes the filter (limit ignored).
func (f AuditFilter) Match(e *AuditEntry) bool {
	if e == nil {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
