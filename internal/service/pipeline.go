package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polysignal/internal/governance"
	"github.com/GoPolymarket/polysignal/internal/market"
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/GoPolymarket/polysignal/internal/pkg/metrics"
	"github.com/GoPolymarket/polysignal/internal/signal"
	"github.com/GoPolymarket/polysignal/internal/stabilizer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const pendingTTL = 24 * time.Hour

// StateStore persists FinancialState snapshots so a restart can explicitly reload them.
type StateStore interface {
	Save(ctx context.Context, state governance.FinancialState) error
	Load(ctx context.Context) (governance.FinancialState, bool, error)
}

// MarketSubscriber is told which markets the pipeline has scored, so their prices get tracked.
type MarketSubscriber interface {
	Subscribe(marketIDs []string) error
}

type PipelineConfig struct {
	Ranking      signal.RankingConfig
	SettledUpper float64
	SettledLower float64
	Concurrency  int // parallel ARS workers
	MaxSignals   int // signals evaluated per run; 0 means all
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Ranking:      signal.DefaultRankingConfig(),
		SettledUpper: signal.DefaultSettledUpper,
		SettledLower: signal.DefaultSettledLower,
		Concurrency:  4,
	}
}

// RunOutcome is what happened to one signal during a pipeline run.
type RunOutcome struct {
	Result    model.GovernanceResult `json:"result"`
	Execution *model.ExecutionReport `json:"execution,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type RunSummary struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Scored       int              `json:"signals_scored"`
	Evaluated    int              `json:"signals_evaluated"`
	Approved     int              `json:"approved"`
	Blocked      int              `json:"blocked"`
	KillSwitched int              `json:"kill_switched"`
	Executed     int              `json:"executed"`
	Failed       int              `json:"execution_failed"`
	Outcomes     []RunOutcome     `json:"outcomes"`
	Stats        governance.Stats `json:"stats"`
}

// Pipeline wires aggregation, stabilisation, governance and execution together.
// The mutex serialises every governance call so FinancialState is never mutated while
// another evaluation reads it.
type Pipeline struct {
	cfg        PipelineConfig
	aggregator *signal.Aggregator
	stabilizer *stabilizer.Stabilizer
	engine     *governance.Engine

	executor   Executor
	prices     market.PriceSource
	subscriber MarketSubscriber
	cache      *SignalCache
	store      StateStore

	mu      sync.Mutex
	pending map[string]model.GovernanceResult // approved, not yet recorded

	log *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithExecutor(e Executor) PipelineOption {
	return func(p *Pipeline) { p.executor = e }
}

func WithPriceSource(src market.PriceSource) PipelineOption {
	return func(p *Pipeline) { p.prices = src }
}

func WithMarketSubscriber(s MarketSubscriber) PipelineOption {
	return func(p *Pipeline) { p.subscriber = s }
}

func WithSignalCache(c *SignalCache) PipelineOption {
	return func(p *Pipeline) { p.cache = c }
}

func WithStateStore(s StateStore) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

func NewPipeline(cfg PipelineConfig, agg *signal.Aggregator, stab *stabilizer.Stabilizer, engine *governance.Engine, opts ...PipelineOption) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	p := &Pipeline{
		cfg:        cfg,
		aggregator: agg,
		stabilizer: stab,
		engine:     engine,
		pending:    make(map[string]model.GovernanceResult),
		log:        logger.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewSignalCache(DefaultSignalTTL)
	}
	return p
}

func (p *Pipeline) Engine() *governance.Engine {
	return p.engine
}

func (p *Pipeline) Cache() *SignalCache {
	return p.cache
}

// Score aggregates positions into candidates and runs every surviving candidate through
// the stabilizer. Results are sorted by ARS score, highest first, and cached.
func (p *Pipeline) Score(ctx context.Context, req model.ScoreRequest) ([]model.RiskScoredSignal, error) {
	if req.Exposure < 0 || req.Exposure > 1 {
		return nil, apperrors.Preconditionf("exposure %v outside [0,1]", req.Exposure)
	}

	profiles := req.Profiles
	if len(profiles) == 0 {
		profiles = signal.RankParticipants(req.Stats, p.cfg.Ranking)
	}

	candidates, err := p.aggregator.Aggregate(req.Positions, profiles)
	if err != nil {
		return nil, err
	}
	metrics.SignalsTotal.WithLabelValues("aggregated").Add(float64(len(candidates)))
	candidates = signal.FilterSettled(candidates, p.cfg.SettledUpper, p.cfg.SettledLower)

	winRates := p.winRates(profiles)
	held := indexPositions(req.Positions)
	state := p.engine.ExportState()
	drawdown := state.Drawdown()
	if drawdown < 0 {
		drawdown = 0
	}

	scored := make([]model.RiskScoredSignal, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := stabilizer.Input{
				Signal:       cand,
				Supporters:   supportersFor(cand, held, winRates),
				PriceHistory: p.history(req.PriceHistory, cand.MarketID),
				Exposure:     req.Exposure,
				Drawdown:     drawdown,
			}
			out, err := p.stabilizer.Process(in)
			if err != nil {
				return err
			}
			out.Category = market.Categorize(cand.MarketTitle)
			scored[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].ARSScore > scored[j].ARSScore
	})
	metrics.SignalsTotal.WithLabelValues("scored").Add(float64(len(scored)))
	p.cache.Set(scored)
	p.subscribe(scored)

	p.log.Info("signals scored",
		"profiles", len(profiles),
		"candidates", len(candidates),
		"scored", len(scored),
	)
	return scored, nil
}

// Evaluate runs one signal through governance. Approved results wait for RecordExecution.
func (p *Pipeline) Evaluate(ctx context.Context, sig model.RiskScoredSignal) (model.GovernanceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluateLocked(ctx, sig)
}

func (p *Pipeline) evaluateLocked(_ context.Context, sig model.RiskScoredSignal) (model.GovernanceResult, error) {
	res, err := p.engine.Evaluate(sig)
	if err != nil {
		return res, err
	}
	p.prunePending(res.Timestamp)
	if res.Decision == model.DecisionApproved {
		p.pending[res.EvaluationID] = res
	}
	return res, nil
}

// RecordExecution records the outcome of a previously approved evaluation by id.
func (p *Pipeline) RecordExecution(ctx context.Context, in model.ExecutionInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.pending[in.EvaluationID]
	if !ok {
		return apperrors.StateConflictf("evaluation %s is not an approved, unrecorded result", in.EvaluationID)
	}
	if err := p.engine.RecordExecution(res, in.ActualCostCents, in.RealizedPnL); err != nil {
		return err
	}
	delete(p.pending, in.EvaluationID)
	p.saveState(ctx)
	return nil
}

// Run scores the request and pushes the signals through governance one at a time. Each
// approved order is executed and recorded before the next signal is evaluated. Without
// an executor approved results stay pending.
func (p *Pipeline) Run(ctx context.Context, req model.ScoreRequest) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Outcomes:  make([]RunOutcome, 0),
	}

	signals, err := p.Score(ctx, req)
	if err != nil {
		return summary, err
	}
	summary.Scored = len(signals)
	if p.cfg.MaxSignals > 0 && len(signals) > p.cfg.MaxSignals {
		signals = signals[:p.cfg.MaxSignals]
	}

	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = time.Now()
			summary.Stats = p.engine.Stats()
			return summary, err
		}
		outcome, err := p.step(ctx, sig)
		if err != nil {
			return summary, err
		}
		summary.Evaluated++
		switch outcome.Result.Decision {
		case model.DecisionApproved:
			summary.Approved++
		case model.DecisionKillSwitched:
			summary.KillSwitched++
		default:
			summary.Blocked++
		}
		if outcome.Execution != nil {
			summary.Executed++
		}
		if outcome.Error != "" {
			summary.Failed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	summary.FinishedAt = time.Now()
	summary.Stats = p.engine.Stats()
	p.log.Info("pipeline run finished",
		"run_id", summary.RunID,
		"scored", summary.Scored,
		"approved", summary.Approved,
		"executed", summary.Executed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// step holds the lock across evaluate, execute and record.
func (p *Pipeline) step(ctx context.Context, sig model.RiskScoredSignal) (RunOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.evaluateLocked(ctx, sig)
	if err != nil {
		return RunOutcome{}, err
	}
	outcome := RunOutcome{Result: res}
	if res.Decision != model.DecisionApproved || p.executor == nil {
		return outcome, nil
	}

	report, err := p.executor.Execute(ctx, *res.OrderRequest)
	if err != nil {
		// 执行失败不记账, 结果保留为 pending 以便人工补录
		p.log.Error("order execution failed", "evaluation_id", res.EvaluationID, "error", err)
		outcome.Error = err.Error()
		return outcome, nil
	}
	outcome.Execution = &report
	if err := p.engine.RecordExecution(res, report.CostCents, report.RealizedPnL); err != nil {
		outcome.Error = err.Error()
		return outcome, nil
	}
	delete(p.pending, res.EvaluationID)
	p.saveState(ctx)
	return outcome, nil
}

func (p *Pipeline) ActivateKillSwitch(ctx context.Context, reason string) (model.AuditEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.engine.ActivateKillSwitch(reason)
	if err != nil {
		return entry, err
	}
	p.saveState(ctx)
	return entry, nil
}

func (p *Pipeline) ResetKillSwitch(ctx context.Context, authorizedBy string) (model.AuditEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.engine.ResetKillSwitch(authorizedBy)
	if err != nil {
		return entry, err
	}
	p.saveState(ctx)
	return entry, nil
}

// RestoreState reloads a persisted FinancialState. A missing snapshot is not an error.
func (p *Pipeline) RestoreState(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	state, ok, err := p.store.Load(ctx)
	if err != nil {
		return apperrors.New(apperrors.ErrUpstream, "load financial state", err)
	}
	if !ok {
		p.log.Info("no persisted financial state, starting fresh")
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Restore(state)
}

// PendingCount reports approved evaluations still waiting for an execution record.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pipeline) saveState(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, p.engine.ExportState()); err != nil {
		logger.LogError(ctx, err, "failed to persist financial state")
	}
}

func (p *Pipeline) prunePending(now time.Time) {
	for id, res := range p.pending {
		if now.Sub(res.Timestamp) > pendingTTL {
			delete(p.pending, id)
		}
	}
}

func (p *Pipeline) history(supplied map[string][]float64, marketID string) []float64 {
	if h := supplied[marketID]; len(h) > 0 {
		return h
	}
	if p.prices != nil {
		return p.prices.Series(marketID)
	}
	return nil
}

func (p *Pipeline) subscribe(signals []model.RiskScoredSignal) {
	if p.subscriber == nil || len(signals) == 0 {
		return
	}
	ids := make([]string, 0, len(signals))
	for _, s := range signals {
		ids = append(ids, s.MarketID)
	}
	if err := p.subscriber.Subscribe(ids); err != nil {
		p.log.Warn("market subscribe failed", "error", err)
	}
}

// winRates maps each profile to its efficiency score in [0,1]; that score stands in for
// the participant's win rate when weighting consistency.
func (p *Pipeline) winRates(profiles []model.ParticipantProfile) map[string]float64 {
	target := p.cfg.Ranking.EfficiencyTarget
	out := make(map[string]float64, len(profiles))
	for _, pr := range profiles {
		if target <= 0 {
			out[pr.ParticipantID] = 0.5
			continue
		}
		r := pr.Efficiency / target
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		out[pr.ParticipantID] = r
	}
	return out
}

type holdingKey struct {
	participant string
	market      string
	outcome     string
}

func indexPositions(positions map[string][]model.Position) map[holdingKey]model.Position {
	out := make(map[holdingKey]model.Position)
	for participant, list := range positions {
		for _, pos := range list {
			k := holdingKey{participant: participant, market: pos.MarketID, outcome: pos.Outcome}
			if prev, ok := out[k]; ok {
				prev.CurrentValue += pos.CurrentValue
				prev.RealizedPnL += pos.RealizedPnL
				prev.UnrealizedPnL += pos.UnrealizedPnL
				out[k] = prev
				continue
			}
			out[k] = pos
		}
	}
	return out
}

func supportersFor(sig model.CandidateSignal, held map[holdingKey]model.Position, winRates map[string]float64) []stabilizer.Supporter {
	out := make([]stabilizer.Supporter, 0, len(sig.Participants))
	seen := make(map[string]struct{}, len(sig.Participants))
	for _, id := range sig.Participants {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pos, ok := held[holdingKey{participant: id, market: sig.MarketID, outcome: sig.Outcome}]
		if !ok {
			continue
		}
		out = append(out, stabilizer.Supporter{
			ParticipantID: id,
			Notional:      pos.CurrentValue,
			PnL:           pos.PnL(),
			WinRate:       winRates[id],
		})
	}
	return out
}
