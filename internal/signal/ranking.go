package signal

import (
	"sort"

	"github.com/GoPolymarket/polysignal/internal/model"
)

type RankingConfig struct {
	MinProfit        float64 // participants below this are not ranked
	ProfitNormalizer float64 // profit at which the profit score saturates
	EfficiencyTarget float64 // efficiency at which the efficiency score saturates
	ProfitWeight     float64
	EfficiencyWeight float64
	TopN             int // 0 keeps everyone
}

func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		MinProfit:        10000,
		ProfitNormalizer: 100000,
		EfficiencyTarget: 0.10,
		ProfitWeight:     0.4,
		EfficiencyWeight: 0.6,
		TopN:             25,
	}
}

// RankParticipants scores leaderboard lines by profit and profit-per-volume, favouring
// efficiency over raw size, and returns the best TopN.
func RankParticipants(stats []model.ParticipantStats, cfg RankingConfig) []model.ParticipantProfile {
	profiles := make([]model.ParticipantProfile, 0, len(stats))
	for _, s := range stats {
		if s.ParticipantID == "" || s.Profit < cfg.MinProfit {
			continue
		}
		efficiency := 0.0
		if s.Volume > 0 {
			efficiency = s.Profit / s.Volume
		}
		profitScore := saturate(s.Profit, cfg.ProfitNormalizer)
		efficiencyScore := saturate(efficiency, cfg.EfficiencyTarget)

		name := s.DisplayName
		if name == "" {
			name = shortID(s.ParticipantID)
		}
		profiles = append(profiles, model.ParticipantProfile{
			ParticipantID: s.ParticipantID,
			DisplayName:   name,
			Profit:        s.Profit,
			Volume:        s.Volume,
			Efficiency:    efficiency,
			Score:         cfg.ProfitWeight*profitScore + cfg.EfficiencyWeight*efficiencyScore,
		})
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Score > profiles[j].Score
	})
	if cfg.TopN > 0 && len(profiles) > cfg.TopN {
		profiles = profiles[:cfg.TopN]
	}
	return profiles
}

func saturate(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	r := v / limit
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}
