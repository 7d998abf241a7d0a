package governance

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newEngine(cfg Config, opts ...Option) *Engine {
	opts = append([]Option{
		WithClock(fixedClock(noon)),
		WithLogger(logger.New(io.Discard, "error", "json")),
	}, opts...)
	return New(cfg, opts...)
}

// scenarioSignal costs 30 contracts at 50c = $15 against a $500 balance.
func scenarioSignal() model.RiskScoredSignal {
	return model.RiskScoredSignal{
		CandidateSignal: model.CandidateSignal{
			SignalID:          "sig_a",
			MarketID:          "M",
			MarketTitle:       "Market M",
			Outcome:           "Yes",
			Conviction:        0.3,
			ParticipantCount:  3,
			TotalParticipants: 10,
			AvgEntryPrice:     0.48,
			CurrentPrice:      0.50,
		},
		RecommendedSize: 0.03,
		EntryQuality:    model.EntryGood,
		ARSScore:        0.8,
	}
}

func ruleByID(t *testing.T, rules []model.RuleEvaluation, id string) model.RuleEvaluation {
	t.Helper()
	for _, r := range rules {
		if r.RuleID == id {
			return r
		}
	}
	t.Fatalf("rule %s not evaluated", id)
	return model.RuleEvaluation{}
}

func failedIDs(r model.GovernanceResult) []string {
	ids := make([]string, 0)
	for _, e := range r.FailedRules() {
		ids = append(ids, e.RuleID)
	}
	return ids
}

func TestScenarioApproved(t *testing.T) {
	e := newEngine(DefaultConfig())

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	assert.Equal(t, model.DecisionApproved, res.Decision)
	assert.Empty(t, res.FailedRules())
	require.Len(t, res.Rules, 11)
	require.NotNil(t, res.OrderRequest)
	assert.Equal(t, int64(30), res.OrderRequest.Count)
	assert.Equal(t, int64(50), res.OrderRequest.PriceCents)
	assert.Equal(t, int64(1500), res.OrderRequest.TotalCostCents)
	assert.Equal(t, "buy", res.OrderRequest.Action)
	assert.Equal(t, "limit", res.OrderRequest.Type)
	assert.Equal(t, "M", res.OrderRequest.Ticker)
	assert.Equal(t, "Yes", res.OrderRequest.Side)
	assert.NotEmpty(t, res.EvaluationID)
	assert.Equal(t, noon, res.Timestamp)
	assert.Equal(t, 500.0, res.State.CurrentBalance)
}

func TestScenarioVeryLateEntryBlocked(t *testing.T) {
	e := newEngine(DefaultConfig())
	sig := scenarioSignal()
	sig.EntryQuality = model.EntryVeryLate

	res, err := e.Evaluate(sig)
	require.NoError(t, err)

	assert.Equal(t, model.DecisionBlocked, res.Decision)
	assert.Equal(t, []string{RuleEntryQuality}, failedIDs(res))
	assert.Nil(t, res.OrderRequest)
	assert.Len(t, res.Rules, 11)
}

func TestScenarioDrawdownKillSwitch(t *testing.T) {
	e := newEngine(DefaultConfig())
	state := NewFinancialState(500)
	state.Balance = 375
	require.NoError(t, e.Restore(state))

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	assert.Equal(t, model.DecisionKillSwitched, res.Decision)
	assert.Equal(t, []string{RuleDrawdown}, failedIDs(res))
	assert.InDelta(t, 0.25, ruleByID(t, res.Rules, RuleDrawdown).Details["drawdown"], 1e-12)
	assert.True(t, res.State.KillSwitchActive)
	assert.True(t, e.Snapshot().KillSwitchActive)

	// the latch now fails the first check as well
	res, err = e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionKillSwitched, res.Decision)
	assert.False(t, ruleByID(t, res.Rules, RuleKillSwitch).Passed)
	assert.Len(t, res.Rules, 11)
}

func TestScenarioDailyLimitBlocked(t *testing.T) {
	e := newEngine(DefaultConfig())
	state := NewFinancialState(500)
	state.Ledger = append(state.Ledger, Trade{EvaluationID: "earlier", At: noon.Add(-time.Hour), CostCents: 4800})
	state.TotalTransactions = 1
	require.NoError(t, e.Restore(state))

	sig := scenarioSignal()
	sig.RecommendedSize = 0.01 // 10 contracts at 50c = $5

	res, err := e.Evaluate(sig)
	require.NoError(t, err)

	assert.Equal(t, model.DecisionBlocked, res.Decision)
	assert.Equal(t, []string{RuleDailySpend}, failedIDs(res))
	daily := ruleByID(t, res.Rules, RuleDailySpend)
	assert.Equal(t, int64(4800), daily.Details["current_cents"])
	assert.Equal(t, int64(5300), daily.Details["projected_cents"])
}

func TestRollingWindowsExpire(t *testing.T) {
	e := newEngine(DefaultConfig())
	state := NewFinancialState(500)
	state.Ledger = []Trade{
		{At: noon.Add(-25 * time.Hour), CostCents: 4800},
		{At: noon.Add(-8 * 24 * time.Hour), CostCents: 9000},
	}
	require.NoError(t, e.Restore(state))

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, res.Decision)
	assert.Equal(t, int64(0), res.State.DailySpendCents)
	assert.Equal(t, int64(4800), res.State.WeeklySpendCents)
}

func TestAlwaysElevenRulesInFixedOrder(t *testing.T) {
	want := []string{
		RuleKillSwitch, RuleDrawdown, RuleConsecutiveLosses, RuleEntryQuality, RuleARSScore,
		RuleConviction, RulePerTrade, RuleDailySpend, RuleWeeklySpend, RuleBalance, RuleTradingHours,
	}
	e := newEngine(DefaultConfig())

	bad := scenarioSignal()
	bad.EntryQuality = model.EntryLate
	bad.ARSScore = 0.1
	bad.Conviction = 0.01
	bad.CurrentPrice = 0.99
	bad.RecommendedSize = 0.5

	for _, sig := range []model.RiskScoredSignal{scenarioSignal(), bad} {
		res, err := e.Evaluate(sig)
		require.NoError(t, err)
		require.Len(t, res.Rules, RuleCount)
		for i, r := range res.Rules {
			assert.Equal(t, want[i], r.RuleID)
			assert.NotEmpty(t, r.Reason)
		}
	}
}

func TestEvaluateIsIdempotentForUnchangedState(t *testing.T) {
	e := newEngine(DefaultConfig())
	first, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	second, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	assert.Equal(t, first.Rules, second.Rules)
	assert.Equal(t, first.Decision, second.Decision)
	assert.NotEqual(t, first.EvaluationID, second.EvaluationID)
}

func TestPerTradeLimitMonotonicity(t *testing.T) {
	e := newEngine(DefaultConfig())
	base, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	sig := scenarioSignal()
	sig.CurrentPrice = 0.70
	sig.RecommendedSize = 0.042 // 30 contracts at 70c = $21
	over, err := e.Evaluate(sig)
	require.NoError(t, err)
	require.Equal(t, int64(2100), ruleByID(t, over.Rules, RulePerTrade).Details["cost_cents"])

	for i := range base.Rules {
		if base.Rules[i].RuleID == RulePerTrade {
			assert.True(t, base.Rules[i].Passed)
			assert.False(t, over.Rules[i].Passed)
			continue
		}
		assert.Equal(t, base.Rules[i].Passed, over.Rules[i].Passed, base.Rules[i].RuleID)
	}
	assert.Equal(t, model.DecisionBlocked, over.Decision)
}

func TestConsecutiveLossesKillSwitchedWithoutLatch(t *testing.T) {
	e := newEngine(DefaultConfig())
	state := NewFinancialState(500)
	state.ConsecutiveLosses = 5
	require.NoError(t, e.Restore(state))

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionKillSwitched, res.Decision)
	assert.Equal(t, []string{RuleConsecutiveLosses}, failedIDs(res))
	assert.False(t, e.Snapshot().KillSwitchActive)
}

func TestTradingHours(t *testing.T) {
	cfg := DefaultConfig()
	early := newEngine(cfg, WithClock(fixedClock(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))))
	res, err := early.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionBlocked, res.Decision)
	assert.Equal(t, []string{RuleTradingHours}, failedIDs(res))

	// 12:00 UTC is 07:00 at UTC-5
	cfg.Location = time.FixedZone("UTC-5", -5*3600)
	res, err = newEngine(cfg).Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, 7, ruleByID(t, res.Rules, RuleTradingHours).Details["current_hour"])
	assert.Equal(t, model.DecisionApproved, res.Decision)

	overnight := DefaultConfig()
	overnight.TradingHoursStart, overnight.TradingHoursEnd = 22, 4
	late := newEngine(overnight, WithClock(fixedClock(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))))
	res, err = late.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.True(t, ruleByID(t, res.Rules, RuleTradingHours).Passed)

	res, err = newEngine(overnight).Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.False(t, ruleByID(t, res.Rules, RuleTradingHours).Passed)
}

func TestAllowedQualitiesDerivedFromMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedEntryQualities = nil
	cfg.MinEntryQuality = model.EntryLate
	e := newEngine(cfg)

	sig := scenarioSignal()
	sig.EntryQuality = model.EntryLate
	res, err := e.Evaluate(sig)
	require.NoError(t, err)
	assert.True(t, ruleByID(t, res.Rules, RuleEntryQuality).Passed)

	sig.EntryQuality = model.EntryVeryLate
	res, err = e.Evaluate(sig)
	require.NoError(t, err)
	assert.False(t, ruleByID(t, res.Rules, RuleEntryQuality).Passed)

	sig.EntryQuality = model.EntryUnknown
	res, err = e.Evaluate(sig)
	require.NoError(t, err)
	assert.False(t, ruleByID(t, res.Rules, RuleEntryQuality).Passed)
}

func TestRecordExecution(t *testing.T) {
	e := newEngine(DefaultConfig())
	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	loss := -5.0
	require.NoError(t, e.RecordExecution(res, 1500, &loss))

	snap := e.Snapshot()
	assert.InDelta(t, 485.0, snap.CurrentBalance, 1e-9)
	assert.Equal(t, 500.0, snap.PeakBalance)
	assert.Equal(t, -5.0, snap.TotalPnL)
	assert.Equal(t, 1, snap.ConsecutiveLosses)
	assert.Equal(t, int64(1500), snap.DailySpendCents)
	assert.Equal(t, int64(1500), snap.WeeklySpendCents)
	assert.Equal(t, 1, snap.TotalTransactions)
	assert.Equal(t, 3.0, snap.DrawdownPct)

	err = e.RecordExecution(res, 1500, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStateConflict))

	// unknown pnl leaves the streak alone
	res2, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	require.NoError(t, e.RecordExecution(res2, 1000, nil))
	assert.Equal(t, 1, e.Snapshot().ConsecutiveLosses)

	win := 3.0
	res3, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	require.NoError(t, e.RecordExecution(res3, 0, &win))
	assert.Equal(t, 0, e.Snapshot().ConsecutiveLosses)

	log := e.AuditLog()
	executed := 0
	for _, entry := range log {
		if entry.Event == model.EventTradeExecuted {
			executed++
		}
	}
	assert.Equal(t, 3, executed)
}

func TestRecordExecutionGuards(t *testing.T) {
	e := newEngine(DefaultConfig())
	sig := scenarioSignal()
	sig.EntryQuality = model.EntryVeryLate
	blocked, err := e.Evaluate(sig)
	require.NoError(t, err)

	err = e.RecordExecution(blocked, 100, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStateConflict))

	approved, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)

	noOrder := approved
	noOrder.OrderRequest = nil
	assert.True(t, apperrors.Is(e.RecordExecution(noOrder, 100, nil), apperrors.ErrStateConflict))
	assert.True(t, apperrors.Is(e.RecordExecution(approved, -1, nil), apperrors.ErrPrecondition))

	assert.Equal(t, 500.0, e.Snapshot().CurrentBalance)
	assert.Zero(t, e.Snapshot().TotalTransactions)
}

func TestRestoreRaisesPeakAndKeepsRecordedIDs(t *testing.T) {
	e := newEngine(DefaultConfig())
	state := NewFinancialState(500)
	state.Balance = 500
	state.PeakBalance = 500
	require.NoError(t, e.Restore(state))

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	require.NoError(t, e.RecordExecution(res, 0, nil))
	assert.Equal(t, 500.0, e.Snapshot().PeakBalance)

	restored := e.ExportState()
	restored.Balance = 520
	require.NoError(t, e.Restore(restored))
	assert.Equal(t, 520.0, e.Snapshot().PeakBalance)

	// the restored ledger still blocks re-recording
	assert.True(t, apperrors.Is(e.RecordExecution(res, 0, nil), apperrors.ErrStateConflict))
}

func TestKillSwitchControls(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(DefaultConfig(), WithAuditSink(sink))

	_, err := e.ActivateKillSwitch("")
	assert.True(t, apperrors.Is(err, apperrors.ErrPrecondition))

	entry, err := e.ActivateKillSwitch("manual halt")
	require.NoError(t, err)
	assert.Equal(t, model.EventKillSwitchActivated, entry.Event)
	assert.Equal(t, "manual halt", entry.Reason)

	res, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionKillSwitched, res.Decision)
	assert.Equal(t, "manual halt", ruleByID(t, res.Rules, RuleKillSwitch).Reason)

	_, err = e.ResetKillSwitch("")
	assert.True(t, apperrors.Is(err, apperrors.ErrPrecondition))

	entry, err = e.ResetKillSwitch("ops@desk")
	require.NoError(t, err)
	assert.Equal(t, model.EventKillSwitchReset, entry.Event)
	assert.Equal(t, "ops@desk", entry.AuthorizedBy)

	res, err = e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, res.Decision)

	events := make([]string, 0)
	for _, entry := range sink.entries() {
		events = append(events, entry.Event)
	}
	assert.Equal(t, []string{
		model.EventKillSwitchActivated,
		model.EventGovernanceEvaluation,
		model.EventKillSwitchReset,
		model.EventGovernanceEvaluation,
	}, events)
	assert.Len(t, e.AuditLog(), 4)
}

func TestAuditEntryProjection(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(DefaultConfig(), WithAuditSink(sink))
	sig := scenarioSignal()
	sig.EntryQuality = model.EntryVeryLate
	sig.ARSScore = 0.1

	res, err := e.Evaluate(sig)
	require.NoError(t, err)

	entries := sink.entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, res.EvaluationID, entry.EvaluationID)
	assert.Equal(t, model.EventGovernanceEvaluation, entry.Event)
	assert.Equal(t, "Market M", entry.Market)
	assert.Equal(t, "Yes", entry.Direction)
	assert.Equal(t, model.DecisionBlocked, entry.Decision)
	assert.Equal(t, 11, entry.RulesChecked)
	assert.Equal(t, 2, entry.RulesFailed)
	assert.Equal(t, []string{"Entry Quality Filter", "ARS Score Minimum"}, entry.BlockingRules)
	assert.Nil(t, entry.OrderValueCents)
}

func TestStats(t *testing.T) {
	e := newEngine(DefaultConfig())
	_, err := e.Evaluate(scenarioSignal())
	require.NoError(t, err)
	sig := scenarioSignal()
	sig.EntryQuality = model.EntryVeryLate
	_, err = e.Evaluate(sig)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 2, stats.SignalsProcessed)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 0, stats.KillSwitched)
	assert.Equal(t, 0.5, stats.ApprovalRate)
	assert.Equal(t, 500.0, stats.Wallet.CurrentBalance)
}

func TestEvaluateRejectsMalformedSignal(t *testing.T) {
	e := newEngine(DefaultConfig())
	sig := scenarioSignal()
	sig.MarketID = ""
	_, err := e.Evaluate(sig)
	assert.True(t, apperrors.Is(err, apperrors.ErrPrecondition))

	sig = scenarioSignal()
	sig.RecommendedSize = -0.1
	_, err = e.Evaluate(sig)
	assert.True(t, apperrors.Is(err, apperrors.ErrPrecondition))
	assert.Zero(t, e.Stats().SignalsProcessed)
}

func TestConcurrentEvaluateAndRecord(t *testing.T) {
	e := newEngine(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig := scenarioSignal()
			sig.RecommendedSize = 0.001 // one contract
			res, err := e.Evaluate(sig)
			if err != nil || res.Decision != model.DecisionApproved {
				return
			}
			_ = e.RecordExecution(res, res.OrderRequest.TotalCostCents, nil)
		}()
	}
	wg.Wait()

	snap := e.Snapshot()
	assert.Equal(t, 20, snap.TotalTransactions)
	assert.Equal(t, int64(20*50), snap.DailySpendCents)
	assert.InDelta(t, 490.0, snap.CurrentBalance, 1e-9)
}

type memorySink struct {
	mu   sync.Mutex
	list []model.AuditEntry
}

func (s *memorySink) Log(entry *model.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, *entry)
}

func (s *memorySink) entries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditEntry, len(s.list))
	copy(out, s.list)
	return out
}
