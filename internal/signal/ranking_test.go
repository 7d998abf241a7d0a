package signal

import (
	"testing"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankParticipants(t *testing.T) {
	stats := []model.ParticipantStats{
		{ParticipantID: "0xsmall", Profit: 5000, Volume: 10000},
		{ParticipantID: "0xwhale-wallet", Profit: 200000, Volume: 10000000},
		{ParticipantID: "0xsharp", DisplayName: "sharp", Profit: 50000, Volume: 250000},
	}

	profiles := RankParticipants(stats, DefaultRankingConfig())
	require.Len(t, profiles, 2)

	// sharp: 0.4*0.5 + 0.6*min(0.2/0.1,1) = 0.8
	assert.Equal(t, "0xsharp", profiles[0].ParticipantID)
	assert.Equal(t, "sharp", profiles[0].DisplayName)
	assert.InDelta(t, 0.8, profiles[0].Score, 1e-12)
	assert.InDelta(t, 0.2, profiles[0].Efficiency, 1e-12)

	// whale: 0.4*1 + 0.6*(0.02/0.1) = 0.52
	assert.Equal(t, "0xwhale-wa", profiles[1].DisplayName)
	assert.InDelta(t, 0.52, profiles[1].Score, 1e-12)
}

func TestRankParticipantsTopN(t *testing.T) {
	cfg := DefaultRankingConfig()
	cfg.TopN = 1
	stats := []model.ParticipantStats{
		{ParticipantID: "a", Profit: 20000, Volume: 0},
		{ParticipantID: "b", Profit: 90000, Volume: 100000},
	}
	profiles := RankParticipants(stats, cfg)
	require.Len(t, profiles, 1)
	assert.Equal(t, "b", profiles[0].ParticipantID)
	assert.Zero(t, RankParticipants(stats[:1], cfg)[0].Efficiency)
}
