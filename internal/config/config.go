package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // governance.timezone must resolve in slim images

	"github.com/GoPolymarket/polysignal/internal/governance"
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/GoPolymarket/polysignal/internal/service"
	"github.com/GoPolymarket/polysignal/internal/signal"
	"github.com/GoPolymarket/polysignal/internal/stabilizer"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Market     MarketConfig     `mapstructure:"market"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Stabilizer StabilizerConfig `mapstructure:"stabilizer"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port                   string `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	ReadOnly               bool   `mapstructure:"read_only"` // only reads and kill switch activation
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"` // guards kill switch and execution endpoints; empty disables
}

type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	AuditListKey string `mapstructure:"audit_list_key"`
	AuditListMax int    `mapstructure:"audit_list_max"`
	StateKey     string `mapstructure:"state_key"`
}

type AuditConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"` // memory | postgres | redis
}

type MarketConfig struct {
	FeedURL         string `mapstructure:"feed_url"` // empty disables the websocket price feed
	HistoryCapacity int    `mapstructure:"history_capacity"`
}

type AggregatorConfig struct {
	MinParticipants  int     `mapstructure:"min_participants"`
	MinConviction    float64 `mapstructure:"min_conviction"`
	MinPositionValue float64 `mapstructure:"min_position_value"`
	SettledUpper     float64 `mapstructure:"settled_upper"`
	SettledLower     float64 `mapstructure:"settled_lower"`
}

type RankingConfig struct {
	MinProfit        float64 `mapstructure:"min_profit"`
	ProfitNormalizer float64 `mapstructure:"profit_normalizer"`
	EfficiencyTarget float64 `mapstructure:"efficiency_target"`
	ProfitWeight     float64 `mapstructure:"profit_weight"`
	EfficiencyWeight float64 `mapstructure:"efficiency_weight"`
	TopN             int     `mapstructure:"top_n"`
}

// StabilizerConfig overlays a named preset; zero values keep the preset's value.
type StabilizerConfig struct {
	Preset                  string                  `mapstructure:"preset"`
	OutlierStdThreshold     float64                 `mapstructure:"outlier_std_threshold"`
	MinSampleSize           int                     `mapstructure:"min_sample_size"`
	BasePositionSize        float64                 `mapstructure:"base_position_size"`
	MinPositionSize         float64                 `mapstructure:"min_position_size"`
	MaxPositionSize         float64                 `mapstructure:"max_position_size"`
	ConvictionScaling       float64                 `mapstructure:"conviction_scaling"`
	MaxDailyDrawdown        float64                 `mapstructure:"max_daily_drawdown"`
	MaxTotalDrawdown        float64                 `mapstructure:"max_total_drawdown"`
	DrawdownReductionRate   float64                 `mapstructure:"drawdown_reduction_rate"`
	VolatilityLookback      int                     `mapstructure:"volatility_lookback"`
	MinRegimePoints         int                     `mapstructure:"min_regime_points"`
	HighVolatilityThreshold float64                 `mapstructure:"high_volatility_threshold"`
	RegimeFactors           map[string]float64      `mapstructure:"regime_factors"`
	Weights                 stabilizer.ScoreWeights `mapstructure:"weights"`
}

type GovernanceConfig struct {
	InitialBalance        float64  `mapstructure:"initial_balance"`
	MaxPerTradeCents      int64    `mapstructure:"max_per_trade_cents"`
	MaxDailySpendCents    int64    `mapstructure:"max_daily_spend_cents"`
	MaxWeeklySpendCents   int64    `mapstructure:"max_weekly_spend_cents"`
	MaxPositionContracts  int64    `mapstructure:"max_position_contracts"`
	MinEntryQuality       string   `mapstructure:"min_entry_quality"`
	AllowedEntryQualities []string `mapstructure:"allowed_entry_qualities"`
	MinARSScore           float64  `mapstructure:"min_ars_score"`
	MinConviction         float64  `mapstructure:"min_conviction"`
	DrawdownKillSwitchPct float64  `mapstructure:"drawdown_kill_switch_pct"`
	ConsecutiveLossLimit  int      `mapstructure:"consecutive_loss_limit"`
	TradingHoursStart     int      `mapstructure:"trading_hours_start"`
	TradingHoursEnd       int      `mapstructure:"trading_hours_end"`
	Timezone              string   `mapstructure:"timezone"`
	RestoreState          bool     `mapstructure:"restore_state"`
}

type PipelineConfig struct {
	Concurrency      int  `mapstructure:"concurrency"`
	MaxSignals       int  `mapstructure:"max_signals"`
	SignalTTLSeconds int  `mapstructure:"signal_ttl_seconds"`
	DryRun           bool `mapstructure:"dry_run"` // execute approved orders with the dry-run executor
}

func Load() (*Config, error) {
	// .env 优先加载, 不存在时忽略
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// e.g. POLYSIGNAL_GOVERNANCE_INITIAL_BALANCE
	viper.SetEnvPrefix("polysignal")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Info("no config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.shutdown_timeout_seconds", 5)
	viper.SetDefault("server.read_only", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("rate_limit.qps", 20.0)
	viper.SetDefault("rate_limit.burst", 40)
	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.audit_retention_days", 30)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.audit_list_key", "polysignal:audit")
	viper.SetDefault("redis.audit_list_max", 10000)
	viper.SetDefault("redis.state_key", "polysignal:financial_state")

	viper.SetDefault("audit.dir", "logs")
	viper.SetDefault("audit.backend", "memory")

	viper.SetDefault("market.feed_url", "")
	viper.SetDefault("market.history_capacity", 200)

	agg := signal.DefaultConfig()
	viper.SetDefault("aggregator.min_participants", agg.MinParticipants)
	viper.SetDefault("aggregator.min_conviction", agg.MinConviction)
	viper.SetDefault("aggregator.min_position_value", agg.MinPositionValue)
	viper.SetDefault("aggregator.settled_upper", signal.DefaultSettledUpper)
	viper.SetDefault("aggregator.settled_lower", signal.DefaultSettledLower)

	rk := signal.DefaultRankingConfig()
	viper.SetDefault("ranking.min_profit", rk.MinProfit)
	viper.SetDefault("ranking.profit_normalizer", rk.ProfitNormalizer)
	viper.SetDefault("ranking.efficiency_target", rk.EfficiencyTarget)
	viper.SetDefault("ranking.profit_weight", rk.ProfitWeight)
	viper.SetDefault("ranking.efficiency_weight", rk.EfficiencyWeight)
	viper.SetDefault("ranking.top_n", rk.TopN)

	// stabilizer keys default to zero so the preset decides; registering them lets env vars bind
	viper.SetDefault("stabilizer.preset", "default")
	for _, key := range []string{
		"outlier_std_threshold", "min_sample_size", "base_position_size", "min_position_size",
		"max_position_size", "conviction_scaling", "max_daily_drawdown", "max_total_drawdown",
		"drawdown_reduction_rate", "volatility_lookback", "min_regime_points", "high_volatility_threshold",
		"weights.ars_conviction", "weights.entry_quality", "weights.aggregator_conviction",
	} {
		viper.SetDefault("stabilizer."+key, 0)
	}

	gov := governance.DefaultConfig()
	viper.SetDefault("governance.initial_balance", gov.InitialBalance)
	viper.SetDefault("governance.max_per_trade_cents", gov.MaxPerTradeCents)
	viper.SetDefault("governance.max_daily_spend_cents", gov.MaxDailySpendCents)
	viper.SetDefault("governance.max_weekly_spend_cents", gov.MaxWeeklySpendCents)
	viper.SetDefault("governance.max_position_contracts", gov.MaxPositionContracts)
	viper.SetDefault("governance.min_entry_quality", string(gov.MinEntryQuality))
	viper.SetDefault("governance.allowed_entry_qualities", []string{})
	viper.SetDefault("governance.min_ars_score", gov.MinARSScore)
	viper.SetDefault("governance.min_conviction", gov.MinConviction)
	viper.SetDefault("governance.drawdown_kill_switch_pct", gov.DrawdownKillSwitchPct)
	viper.SetDefault("governance.consecutive_loss_limit", gov.ConsecutiveLossLimit)
	viper.SetDefault("governance.trading_hours_start", gov.TradingHoursStart)
	viper.SetDefault("governance.trading_hours_end", gov.TradingHoursEnd)
	viper.SetDefault("governance.timezone", "UTC")
	viper.SetDefault("governance.restore_state", false)

	viper.SetDefault("pipeline.concurrency", 4)
	viper.SetDefault("pipeline.max_signals", 0)
	viper.SetDefault("pipeline.signal_ttl_seconds", 300)
	viper.SetDefault("pipeline.dry_run", true)
}

func (c *Config) ToAggregatorConfig() signal.Config {
	return signal.Config{
		MinParticipants:  c.Aggregator.MinParticipants,
		MinConviction:    c.Aggregator.MinConviction,
		MinPositionValue: c.Aggregator.MinPositionValue,
	}
}

func (c *Config) ToPipelineConfig() service.PipelineConfig {
	return service.PipelineConfig{
		Ranking: signal.RankingConfig{
			MinProfit:        c.Ranking.MinProfit,
			ProfitNormalizer: c.Ranking.ProfitNormalizer,
			EfficiencyTarget: c.Ranking.EfficiencyTarget,
			ProfitWeight:     c.Ranking.ProfitWeight,
			EfficiencyWeight: c.Ranking.EfficiencyWeight,
			TopN:             c.Ranking.TopN,
		},
		SettledUpper: c.Aggregator.SettledUpper,
		SettledLower: c.Aggregator.SettledLower,
		Concurrency:  c.Pipeline.Concurrency,
		MaxSignals:   c.Pipeline.MaxSignals,
	}
}

func (c *Config) SignalTTL() time.Duration {
	return time.Duration(c.Pipeline.SignalTTLSeconds) * time.Second
}

func (c *Config) ToStabilizerConfig() (stabilizer.Config, error) {
	s := c.Stabilizer
	out := stabilizer.Preset(s.Preset)
	setFloat(&out.OutlierStdThreshold, s.OutlierStdThreshold)
	setInt(&out.MinSampleSize, s.MinSampleSize)
	setFloat(&out.BasePositionSize, s.BasePositionSize)
	setFloat(&out.MinPositionSize, s.MinPositionSize)
	setFloat(&out.MaxPositionSize, s.MaxPositionSize)
	setFloat(&out.ConvictionScaling, s.ConvictionScaling)
	setFloat(&out.MaxDailyDrawdown, s.MaxDailyDrawdown)
	setFloat(&out.MaxTotalDrawdown, s.MaxTotalDrawdown)
	setFloat(&out.DrawdownReductionRate, s.DrawdownReductionRate)
	setInt(&out.VolatilityLookback, s.VolatilityLookback)
	setInt(&out.MinRegimePoints, s.MinRegimePoints)
	setFloat(&out.HighVolatilityThreshold, s.HighVolatilityThreshold)
	if s.Weights != (stabilizer.ScoreWeights{}) {
		out.Weights = s.Weights
	}
	for name, factor := range s.RegimeFactors {
		r := model.Regime(strings.ToLower(name))
		switch r {
		case model.RegimeCalm, model.RegimeVolatile, model.RegimeTrending, model.RegimeChoppy:
			out.RegimeFactors[r] = factor
		default:
			return out, fmt.Errorf("unknown regime %q in stabilizer.regime_factors", name)
		}
	}
	if out.MinPositionSize > out.MaxPositionSize {
		return out, fmt.Errorf("stabilizer min_position_size %v above max %v", out.MinPositionSize, out.MaxPositionSize)
	}
	return out, nil
}

func (c *Config) ToGovernanceConfig() (governance.Config, error) {
	g := c.Governance
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return governance.Config{}, fmt.Errorf("governance timezone: %w", err)
	}
	allowed := make([]model.EntryQuality, 0, len(g.AllowedEntryQualities))
	for _, q := range g.AllowedEntryQualities {
		allowed = append(allowed, model.EntryQuality(strings.ToLower(q)))
	}
	if g.TradingHoursStart < 0 || g.TradingHoursStart > 24 || g.TradingHoursEnd < 0 || g.TradingHoursEnd > 24 {
		return governance.Config{}, fmt.Errorf("trading hours %d-%d outside 0-24", g.TradingHoursStart, g.TradingHoursEnd)
	}
	return governance.Config{
		InitialBalance:        g.InitialBalance,
		MaxPerTradeCents:      g.MaxPerTradeCents,
		MaxDailySpendCents:    g.MaxDailySpendCents,
		MaxWeeklySpendCents:   g.MaxWeeklySpendCents,
		MaxPositionContracts:  g.MaxPositionContracts,
		MinEntryQuality:       model.EntryQuality(strings.ToLower(g.MinEntryQuality)),
		AllowedEntryQualities: allowed,
		MinARSScore:           g.MinARSScore,
		MinConviction:         g.MinConviction,
		DrawdownKillSwitchPct: g.DrawdownKillSwitchPct,
		ConsecutiveLossLimit:  g.ConsecutiveLossLimit,
		TradingHoursStart:     g.TradingHoursStart,
		TradingHoursEnd:       g.TradingHoursEnd,
		Location:              loc,
	}, nil
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
