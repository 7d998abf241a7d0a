package governance

import (
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
)

type Config struct {
	InitialBalance float64 // dollars

	MaxPerTradeCents     int64
	MaxDailySpendCents   int64
	MaxWeeklySpendCents  int64
	MaxPositionContracts int64

	// AllowedEntryQualities wins when set; otherwise every quality at least as good
	// as MinEntryQuality is allowed.
	MinEntryQuality       model.EntryQuality
	AllowedEntryQualities []model.EntryQuality
	MinARSScore           float64
	MinConviction         float64

	DrawdownKillSwitchPct float64 // fraction, 0.20 = 20%
	ConsecutiveLossLimit  int

	// Trading window is [start, end) in Location hours.
	TradingHoursStart int
	TradingHoursEnd   int
	Location          *time.Location
}

func DefaultConfig() Config {
	return Config{
		InitialBalance:        500,
		MaxPerTradeCents:      2000,
		MaxDailySpendCents:    5000,
		MaxWeeklySpendCents:   15000,
		MaxPositionContracts:  50,
		MinEntryQuality:       model.EntryFair,
		AllowedEntryQualities: []model.EntryQuality{model.EntryGood, model.EntryFair},
		MinARSScore:           0.3,
		MinConviction:         0.05,
		DrawdownKillSwitchPct: 0.20,
		ConsecutiveLossLimit:  5,
		TradingHoursStart:     6,
		TradingHoursEnd:       23,
		Location:              time.UTC,
	}
}

func (c Config) allowedQualities() []model.EntryQuality {
	if len(c.AllowedEntryQualities) > 0 {
		return c.AllowedEntryQualities
	}
	floor := c.MinEntryQuality
	if floor == "" {
		floor = model.EntryFair
	}
	allowed := make([]model.EntryQuality, 0, 4)
	for _, q := range []model.EntryQuality{model.EntryGood, model.EntryFair, model.EntryLate, model.EntryVeryLate} {
		if q.Rank() <= floor.Rank() {
			allowed = append(allowed, q)
		}
	}
	return allowed
}
