// Package signal turns per-participant positions into consensus candidate signals.
package signal

import (
	"math"
	"sort"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/google/uuid"
)

const (
	DefaultSettledUpper = 0.98
	DefaultSettledLower = 0.02
)

type Config struct {
	MinParticipants  int     // groups smaller than this never become signals
	MinConviction    float64 // fraction of eligible participants
	MinPositionValue float64 // positions at or below this value are ignored; 0 disables
}

func DefaultConfig() Config {
	return Config{
		MinParticipants: 2,
		MinConviction:   0.05,
	}
}

type Aggregator struct {
	cfg Config
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.MinParticipants < 1 {
		cfg.MinParticipants = 1
	}
	return &Aggregator{cfg: cfg}
}

type groupKey struct {
	market  string
	outcome string
}

type group struct {
	key     groupKey
	members []model.Position
	// distinct participants in first-seen order; one holder with several lines counts once
	participants []string
	seen         map[string]struct{}
}

func (g *group) add(pos model.Position) {
	g.members = append(g.members, pos)
	if _, ok := g.seen[pos.ParticipantID]; !ok {
		g.seen[pos.ParticipantID] = struct{}{}
		g.participants = append(g.participants, pos.ParticipantID)
	}
}

// Aggregate groups eligible positions by (market, outcome) and emits one candidate per
// group meeting the participant and conviction thresholds. A participant is eligible when
// it appears in positions and has a profile. Output is sorted by conviction then notional,
// descending, with ties kept in first-seen order.
func (a *Aggregator) Aggregate(positions map[string][]model.Position, profiles []model.ParticipantProfile) ([]model.CandidateSignal, error) {
	if err := validatePositions(positions); err != nil {
		return nil, err
	}

	// 按 profile 排名顺序遍历, 保证分组插入顺序确定
	order := make([]string, 0, len(profiles))
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if p.ParticipantID == "" {
			return nil, apperrors.Preconditionf("profile with empty participant id")
		}
		if _, dup := seen[p.ParticipantID]; dup {
			continue
		}
		seen[p.ParticipantID] = struct{}{}
		if _, ok := positions[p.ParticipantID]; ok {
			order = append(order, p.ParticipantID)
		}
	}

	total := len(order)
	if total == 0 {
		return []model.CandidateSignal{}, nil
	}

	index := make(map[groupKey]*group)
	groups := make([]*group, 0)
	for _, participant := range order {
		for _, pos := range positions[participant] {
			if a.cfg.MinPositionValue > 0 && pos.CurrentValue <= a.cfg.MinPositionValue {
				continue
			}
			key := groupKey{market: pos.MarketID, outcome: pos.Outcome}
			g, ok := index[key]
			if !ok {
				g = &group{key: key, seen: make(map[string]struct{})}
				index[key] = g
				groups = append(groups, g)
			}
			pos.ParticipantID = participant
			g.add(pos)
		}
	}

	signals := make([]model.CandidateSignal, 0, len(groups))
	for _, g := range groups {
		sig, ok := a.buildSignal(g, total)
		if !ok {
			continue
		}
		signals = append(signals, sig)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Conviction != signals[j].Conviction {
			return signals[i].Conviction > signals[j].Conviction
		}
		return signals[i].AggregateNotional > signals[j].AggregateNotional
	})
	return signals, nil
}

func (a *Aggregator) buildSignal(g *group, total int) (model.CandidateSignal, bool) {
	count := len(g.participants)
	if count < a.cfg.MinParticipants || total <= 0 {
		return model.CandidateSignal{}, false
	}
	conviction := float64(count) / float64(total)
	if conviction < a.cfg.MinConviction {
		return model.CandidateSignal{}, false
	}

	var notional, shares, weighted float64
	for _, m := range g.members {
		notional += m.CurrentValue
		shares += m.Quantity
		weighted += m.AvgEntryPrice * m.Quantity
	}
	participants := append([]string(nil), g.participants...)
	if shares <= 0 {
		return model.CandidateSignal{}, false
	}
	avgEntry := weighted / shares
	current := g.members[0].CurrentPrice

	edge := 0.0
	if avgEntry > 0 {
		edge = (current - avgEntry) / avgEntry
	}

	return model.CandidateSignal{
		SignalID:          "sig_" + uuid.NewString()[:8],
		MarketID:          g.key.market,
		MarketTitle:       g.members[0].MarketTitle,
		Outcome:           g.key.outcome,
		Conviction:        conviction,
		ParticipantCount:  count,
		TotalParticipants: total,
		AggregateNotional: notional,
		AvgEntryPrice:     avgEntry,
		CurrentPrice:      current,
		ExpectedEdge:      edge,
		Participants:      participants,
	}, true
}

// FilterSettled drops signals whose market is priced at or beyond the settled bounds.
// It is a separate pass so aggregation statistics are unaffected.
func FilterSettled(signals []model.CandidateSignal, upper, lower float64) []model.CandidateSignal {
	out := make([]model.CandidateSignal, 0, len(signals))
	for _, s := range signals {
		if s.CurrentPrice >= upper || s.CurrentPrice <= lower {
			continue
		}
		out = append(out, s)
	}
	return out
}

func validatePositions(positions map[string][]model.Position) error {
	for participant, list := range positions {
		if participant == "" {
			return apperrors.Preconditionf("positions keyed by empty participant id")
		}
		for i, p := range list {
			if p.MarketID == "" || p.Outcome == "" {
				return apperrors.Preconditionf("position %d of %s: market id and outcome are required", i, participant)
			}
			if p.ParticipantID != "" && p.ParticipantID != participant {
				return apperrors.Preconditionf("position %d of %s belongs to %s", i, participant, p.ParticipantID)
			}
			if invalid(p.Quantity) || p.Quantity < 0 {
				return apperrors.Preconditionf("position %d of %s: quantity must be a non-negative number", i, participant)
			}
			if invalid(p.AvgEntryPrice) || invalid(p.CurrentPrice) || invalid(p.CurrentValue) {
				return apperrors.Preconditionf("position %d of %s: prices must be finite", i, participant)
			}
		}
	}
	return nil
}

func invalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
