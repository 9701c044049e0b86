package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

// Names of the gate checks, in evaluation order. They double as metric labels.
const (
	CheckCooldown       = "cooldown"
	CheckPriceRange     = "price_range"
	CheckCandles        = "candles"
	CheckTrend          = "trend"
	CheckVolumePressure = "volume_pressure"
)

type GateConfig struct {
	Cooldown         time.Duration `yaml:"cooldown"`
	MinPullbackPct   float64       `yaml:"min_pullback_pct"`
	MaxPullbackPct   float64       `yaml:"max_pullback_pct"`
	FastEMA          int           `yaml:"fast_ema"`
	SlowEMA          int           `yaml:"slow_ema"`
	VolumeWindow     int           `yaml:"volume_window"`
	LongMinPressure  float64       `yaml:"long_min_pressure"`
	ShortMaxPressure float64       `yaml:"short_max_pressure"`
	MinCandles       int           `yaml:"min_candles"`
	CandleInterval   string        `yaml:"candle_interval"`
	CandleLimit      int           `yaml:"candle_limit"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Cooldown:         30 * time.Minute,
		MinPullbackPct:   5,
		MaxPullbackPct:   25,
		FastEMA:          9,
		SlowEMA:          21,
		VolumeWindow:     20,
		LongMinPressure:  0.55,
		ShortMaxPressure: 0.45,
		MinCandles:       30,
		CandleInterval:   "15m",
		CandleLimit:      50,
	}
}

// GateDecision is the verdict plus the signals it was based on.
// Check is empty when the re-entry is allowed.
type GateDecision struct {
	Allowed     bool
	Check       string
	Reason      string
	Elapsed     time.Duration
	PullbackPct float64
	FastEMA     float64
	SlowEMA     float64
	Pressure    float64
}

type SafetyGate struct {
	cfg GateConfig
}

func NewSafetyGate(cfg GateConfig) *SafetyGate {
	return &SafetyGate{cfg: cfg}
}

func (g *SafetyGate) Config() GateConfig {
	return g.cfg
}

// PullbackPercent is how far price has moved against the record's side since
// entryPrice. Positive means a pullback: lower for LONG, higher for SHORT.
func PullbackPercent(side domain.Side, entryPrice, currentPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return (currentPrice - entryPrice) / entryPrice * 100
	}
	return (entryPrice - currentPrice) / entryPrice * 100
}

// Evaluate runs the checks in order and stops at the first failure.
func (g *SafetyGate) Evaluate(record *domain.ReentryRecord, currentPrice float64, candles []domain.Candle, now time.Time) GateDecision {
	d := GateDecision{Elapsed: now.Sub(record.ClosedAt)}

	if d.Elapsed < g.cfg.Cooldown {
		return d.deny(CheckCooldown, fmt.Sprintf("cooldown active: %s since last close, need %s",
			d.Elapsed.Truncate(time.Second), g.cfg.Cooldown))
	}

	d.PullbackPct = PullbackPercent(record.Side, record.EntryPrice, currentPrice)
	if d.PullbackPct < g.cfg.MinPullbackPct || d.PullbackPct > g.cfg.MaxPullbackPct {
		return d.deny(CheckPriceRange, fmt.Sprintf("price change %.2f%% outside [%.2f%%, %.2f%%]",
			d.PullbackPct, g.cfg.MinPullbackPct, g.cfg.MaxPullbackPct))
	}

	if len(candles) < g.cfg.MinCandles {
		return d.deny(CheckCandles, fmt.Sprintf("insufficient candles: %d < %d", len(candles), g.cfg.MinCandles))
	}

	series := closes(candles)
	d.FastEMA = EMA(series, g.cfg.FastEMA)
	d.SlowEMA = EMA(series, g.cfg.SlowEMA)
	trendOK := d.FastEMA > d.SlowEMA
	if record.Side == domain.SideShort {
		trendOK = d.FastEMA < d.SlowEMA
	}
	if !trendOK {
		return d.deny(CheckTrend, fmt.Sprintf("trend not aligned for %s: EMA%d=%.4f EMA%d=%.4f",
			record.Side, g.cfg.FastEMA, d.FastEMA, g.cfg.SlowEMA, d.SlowEMA))
	}

	d.Pressure = VolumePressure(candles, g.cfg.VolumeWindow)
	if record.Side == domain.SideShort {
		if d.Pressure >= g.cfg.ShortMaxPressure {
			return d.deny(CheckVolumePressure, fmt.Sprintf("volume pressure %.2f not below %.2f", d.Pressure, g.cfg.ShortMaxPressure))
		}
	} else if d.Pressure <= g.cfg.LongMinPressure {
		return d.deny(CheckVolumePressure, fmt.Sprintf("volume pressure %.2f not above %.2f", d.Pressure, g.cfg.LongMinPressure))
	}

	d.Allowed = true
	return d
}

func (d GateDecision) deny(check, reason string) GateDecision {
	d.Allowed = false
	d.Check = check
	d.Reason = reason
	return d
}
