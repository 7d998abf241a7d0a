// Package governance re-evaluates every risk-scored signal against a fixed rule battery
// before it may become an order, and keeps the running financial state those rules read.
package governance

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/GoPolymarket/polysignal/internal/pkg/metrics"
	"github.com/google/uuid"
)

const maxAuditEntries = 10000

// AuditSink receives every audit entry after it is appended in memory.
// Implementations must not block; the engine lock is held during the call.
type AuditSink interface {
	Log(entry *model.AuditEntry)
}

// ApprovalHook is the extension point for routing approved results to an external
// approver, which would yield model.DecisionRequiresApproval. No built-in rule
// produces that decision and the engine does not call any hook.
type ApprovalHook func(result model.GovernanceResult) bool

type Stats struct {
	SignalsProcessed int                     `json:"signals_processed"`
	Approved         int                     `json:"approved"`
	Blocked          int                     `json:"blocked"`
	KillSwitched     int                     `json:"kill_switched"`
	ApprovalRate     float64                 `json:"approval_rate"`
	KillSwitchActive bool                    `json:"kill_switch_active"`
	Wallet           model.FinancialSnapshot `json:"wallet"`
}

type Engine struct {
	mu sync.Mutex

	cfg      Config
	state    FinancialState
	recorded map[string]struct{}
	audit    []model.AuditEntry

	sink AuditSink
	now  func() time.Time
	log  *slog.Logger

	processed    int
	approved     int
	blocked      int
	killSwitched int
}

type Option func(*Engine)

// WithClock injects the wall clock used by the rolling windows and trading hours.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func New(cfg Config, opts ...Option) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Engine{
		cfg:      cfg,
		state:    NewFinancialState(cfg.InitialBalance),
		recorded: make(map[string]struct{}),
		audit:    make([]model.AuditEntry, 0),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Component("governance")
	}
	e.publishGauges()
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate runs the full battery against sig and always returns a complete result.
// Errors are reserved for malformed signals.
func (e *Engine) Evaluate(sig model.RiskScoredSignal) (model.GovernanceResult, error) {
	if err := validateSignal(sig); err != nil {
		return model.GovernanceResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.now()

	order := DeriveOrder(sig, e.state.Balance, e.cfg.MaxPositionContracts)
	wasLatched := e.state.KillSwitchActive
	rules := runBattery(&evalContext{
		cfg:    e.cfg,
		state:  &e.state,
		signal: sig,
		order:  order,
		now:    now,
	})
	decision := decide(rules)

	result := model.GovernanceResult{
		EvaluationID: uuid.NewString(),
		Signal:       sig,
		Decision:     decision,
		Rules:        rules,
		State:        e.state.snapshot(now),
		Timestamp:    now,
	}
	if decision == model.DecisionApproved {
		result.OrderRequest = &order
	}

	e.processed++
	switch decision {
	case model.DecisionApproved:
		e.approved++
	case model.DecisionKillSwitched:
		e.killSwitched++
	default:
		e.blocked++
	}

	elapsed := time.Since(start)
	result.LatencyMs = math.Round(float64(elapsed.Microseconds())/10) / 100

	metrics.DecisionsTotal.WithLabelValues(string(decision)).Inc()
	metrics.EvaluationLatency.Observe(elapsed.Seconds())
	for _, r := range result.FailedRules() {
		metrics.RuleFailures.WithLabelValues(r.RuleID).Inc()
	}
	if !wasLatched && e.state.KillSwitchActive {
		e.log.Warn("kill switch latched by drawdown", "reason", e.state.KillSwitchReason)
	}
	e.publishGauges()

	args := []any{
		"evaluation_id", result.EvaluationID,
		"market", sig.MarketID,
		"decision", decision,
		"failed", len(result.FailedRules()),
	}
	if decision == model.DecisionApproved {
		e.log.Info("signal approved", append(args, "cost_cents", order.TotalCostCents)...)
	} else {
		e.log.Warn("signal rejected", args...)
	}

	e.appendAudit(result.AuditEntry())
	return result, nil
}

func decide(rules []model.RuleEvaluation) model.GovernanceDecision {
	failed, killed := false, false
	for _, r := range rules {
		if r.Passed {
			continue
		}
		failed = true
		if r.RuleType == model.RuleTypeKillSwitch {
			killed = true
		}
	}
	switch {
	case killed:
		return model.DecisionKillSwitched
	case failed:
		return model.DecisionBlocked
	default:
		return model.DecisionApproved
	}
}

// RecordExecution books an executed trade against the financial state. It is the only
// mutator of balance, peak, P&L and the spend ledger. realizedPnL may be nil when the
// outcome is not yet known, in which case the loss streak is left untouched.
func (e *Engine) RecordExecution(result model.GovernanceResult, actualCostCents int64, realizedPnL *float64) error {
	if result.Decision != model.DecisionApproved {
		return apperrors.StateConflictf("evaluation %s was %s, only approved results can be recorded", result.EvaluationID, result.Decision)
	}
	if result.OrderRequest == nil {
		return apperrors.StateConflictf("evaluation %s carries no order request", result.EvaluationID)
	}
	if result.EvaluationID == "" {
		return apperrors.Preconditionf("evaluation id is required")
	}
	if actualCostCents < 0 {
		return apperrors.Preconditionf("actual cost %d must not be negative", actualCostCents)
	}
	if realizedPnL != nil && (math.IsNaN(*realizedPnL) || math.IsInf(*realizedPnL, 0)) {
		return apperrors.Preconditionf("realized pnl must be finite")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.recorded[result.EvaluationID]; dup {
		return apperrors.StateConflictf("evaluation %s already recorded", result.EvaluationID)
	}

	now := e.now()
	var pnl *float64
	if realizedPnL != nil {
		v := *realizedPnL
		pnl = &v
	}
	e.state.record(Trade{
		EvaluationID: result.EvaluationID,
		At:           now,
		CostCents:    actualCostCents,
		PnL:          pnl,
	}, now)
	e.recorded[result.EvaluationID] = struct{}{}
	e.publishGauges()

	detail := map[string]any{"balance": e.state.Balance}
	if pnl != nil {
		detail["realized_pnl"] = *pnl
	}
	cost := actualCostCents
	e.appendAudit(model.AuditEntry{
		EvaluationID:    result.EvaluationID,
		Event:           model.EventTradeExecuted,
		Timestamp:       now,
		SignalID:        result.Signal.SignalID,
		Market:          result.Signal.MarketTitle,
		MarketID:        result.Signal.MarketID,
		Direction:       result.Signal.Outcome,
		Decision:        result.Decision,
		OrderValueCents: &cost,
		Detail:          detail,
	})
	e.log.Info("execution recorded",
		"evaluation_id", result.EvaluationID,
		"cost_cents", actualCostCents,
		"balance", e.state.Balance,
	)
	return nil
}

// ActivateKillSwitch latches the kill switch until ResetKillSwitch is called.
func (e *Engine) ActivateKillSwitch(reason string) (model.AuditEntry, error) {
	if reason == "" {
		return model.AuditEntry{}, apperrors.Preconditionf("kill switch reason is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.KillSwitchActive = true
	e.state.KillSwitchReason = reason
	e.publishGauges()

	entry := model.AuditEntry{
		EvaluationID: uuid.NewString(),
		Event:        model.EventKillSwitchActivated,
		Timestamp:    e.now(),
		Reason:       reason,
	}
	e.appendAudit(entry)
	e.log.Warn("kill switch activated", "reason", reason)
	return entry, nil
}

func (e *Engine) ResetKillSwitch(authorizedBy string) (model.AuditEntry, error) {
	if authorizedBy == "" {
		return model.AuditEntry{}, apperrors.Preconditionf("authorizing operator is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.state.KillSwitchReason
	e.state.KillSwitchActive = false
	e.state.KillSwitchReason = ""
	e.publishGauges()

	entry := model.AuditEntry{
		EvaluationID: uuid.NewString(),
		Event:        model.EventKillSwitchReset,
		Timestamp:    e.now(),
		AuthorizedBy: authorizedBy,
	}
	if previous != "" {
		entry.Detail = map[string]any{"previous_reason": previous}
	}
	e.appendAudit(entry)
	e.log.Warn("kill switch reset", "authorized_by", authorizedBy)
	return entry, nil
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	rate := 0.0
	if e.processed > 0 {
		rate = float64(e.approved) / float64(e.processed)
	}
	return Stats{
		SignalsProcessed: e.processed,
		Approved:         e.approved,
		Blocked:          e.blocked,
		KillSwitched:     e.killSwitched,
		ApprovalRate:     rate,
		KillSwitchActive: e.state.KillSwitchActive,
		Wallet:           e.state.snapshot(e.now()),
	}
}

func (e *Engine) Snapshot() model.FinancialSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot(e.now())
}

// AuditLog returns a copy of the in-memory log, oldest first.
func (e *Engine) AuditLog() []model.AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.AuditEntry, len(e.audit))
	copy(out, e.audit)
	return out
}

// ExportState returns a deep copy suitable for persisting.
func (e *Engine) ExportState() FinancialState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Restore replaces the financial state with one previously exported. Evaluation ids in
// the restored ledger count as recorded.
func (e *Engine) Restore(state FinancialState) error {
	if math.IsNaN(state.Balance) || math.IsInf(state.Balance, 0) || math.IsNaN(state.PeakBalance) || math.IsInf(state.PeakBalance, 0) {
		return apperrors.Preconditionf("restored balances must be finite")
	}
	if state.PeakBalance < 0 || state.ConsecutiveLosses < 0 {
		return apperrors.Preconditionf("restored state has negative peak or loss streak")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = state.clone()
	if e.state.PeakBalance < e.state.Balance {
		e.state.PeakBalance = e.state.Balance
	}
	e.state.prune(e.now())
	for _, t := range e.state.Ledger {
		if t.EvaluationID != "" {
			e.recorded[t.EvaluationID] = struct{}{}
		}
	}
	e.publishGauges()
	e.log.Info("financial state restored",
		"balance", e.state.Balance,
		"ledger", len(e.state.Ledger),
		"kill_switch", e.state.KillSwitchActive,
	)
	return nil
}

// appendAudit must be called with the lock held.
func (e *Engine) appendAudit(entry model.AuditEntry) {
	e.audit = append(e.audit, entry)
	if len(e.audit) > maxAuditEntries {
		e.audit = e.audit[len(e.audit)-maxAuditEntries:]
	}
	if e.sink != nil {
		e.sink.Log(&entry)
	}
}

func (e *Engine) publishGauges() {
	metrics.BalanceUSD.Set(e.state.Balance)
	if e.state.KillSwitchActive {
		metrics.KillSwitchActive.Set(1)
	} else {
		metrics.KillSwitchActive.Set(0)
	}
}

func validateSignal(sig model.RiskScoredSignal) error {
	if sig.MarketID == "" {
		return apperrors.Preconditionf("signal market id is required")
	}
	for name, v := range map[string]float64{
		"current_price":    sig.CurrentPrice,
		"recommended_size": sig.RecommendedSize,
		"ars_score":        sig.ARSScore,
		"conviction":       sig.Conviction,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.Preconditionf("signal %s: %s must be finite", sig.MarketID, name)
		}
		if v < 0 {
			return apperrors.Preconditionf("signal %s: %s must not be negative", sig.MarketID, name)
		}
	}
	return nil
}
