package agents

import (
	"context"
	"fmt"
	"time"

	"tradeagent/internal/market"
	"tradeagent/internal/pipeline"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

const RiskID = "risk"

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// RiskConfig 描述仓位与止损计算参数，百分比均以 0-100 表示。
type RiskConfig struct {
	ID                   string
	Priority             int
	Interval             string
	TechnicalStep        string
	ATRPeriod            int
	StopATRMultiple      float64
	RewardRatio          float64
	EquityUSD            float64
	RiskPct              float64
	MaxPositionPct       float64
	DefaultVolatilityPct float64
}

func (c RiskConfig) withDefaults() RiskConfig {
	c.ID = nameOrDefault(c.ID, RiskID)
	c.Interval = intervalOrDefault(c.Interval)
	c.TechnicalStep = nameOrDefault(c.TechnicalStep, TechnicalID)
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.StopATRMultiple <= 0 {
		c.StopATRMultiple = 1.5
	}
	if c.RewardRatio <= 0 {
		c.RewardRatio = 2
	}
	if c.EquityUSD <= 0 {
		c.EquityUSD = 10000
	}
	if c.RiskPct <= 0 {
		c.RiskPct = 1
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 20
	}
	if c.DefaultVolatilityPct <= 0 {
		c.DefaultVolatilityPct = 2
	}
	return c
}

// RiskResult 是风险评估步骤的输出。
type RiskResult struct {
	Header          pipeline.ResultMeta `json:"meta"`
	Direction       string              `json:"direction"`
	Price           float64             `json:"price"`
	ATR             float64             `json:"atr"`
	ATRSource       string              `json:"atr_source"`
	VolatilityPct   float64             `json:"volatility_pct"`
	Level           RiskLevel           `json:"level"`
	StopLoss        float64             `json:"stop_loss"`
	TakeProfit      float64             `json:"take_profit"`
	RiskAmountUSD   float64             `json:"risk_amount_usd"`
	PositionSizeUSD float64             `json:"position_size_usd"`
	Quantity        float64             `json:"quantity"`
	Capped          bool                `json:"capped"`
}

func (r *RiskResult) Meta() pipeline.ResultMeta { return r.Header }

// Risk 根据波动率给出止损、止盈和仓位建议。
type Risk struct {
	cfg RiskConfig
}

func NewRisk(cfg RiskConfig) *Risk {
	return &Risk{cfg: cfg.withDefaults()}
}

func (r *Risk) ID() string         { return r.cfg.ID }
func (r *Risk) Priority() int      { return r.cfg.Priority }
func (r *Risk) Config() RiskConfig { return r.cfg }

func (r *Risk) CanRun(rc *pipeline.RunContext) bool {
	return rc.Input().LastPrice > 0
}

func (r *Risk) Run(_ context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
	start := time.Now()
	snap := rc.Input()
	price := decimal.NewFromFloat(snap.LastPrice)

	res := &RiskResult{
		Header:    pipeline.NewMeta(r.cfg.ID, pipeline.KindRisk, rc.Subject),
		Direction: "long",
		Price:     snap.LastPrice,
	}
	if tech, ok := pipeline.ResultAs[*TechnicalResult](rc, r.cfg.TechnicalStep); ok && tech.Signal == SignalBearish {
		res.Direction = "short"
	}

	atr, source := r.atr(snap.CandlesFor(r.cfg.Interval), snap.LastPrice)
	res.ATR, res.ATRSource = atr, source
	stopDistance := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(r.cfg.StopATRMultiple))
	if !stopDistance.IsPositive() {
		return nil, pipeline.Reject(r.cfg.ID, "stop distance is zero for %s", rc.Subject)
	}

	res.VolatilityPct = round(atr/snap.LastPrice*100, 4)
	res.Level = levelFor(res.VolatilityPct)

	target := stopDistance.Mul(decimal.NewFromFloat(r.cfg.RewardRatio))
	if res.Direction == "short" {
		res.StopLoss = price.Add(stopDistance).InexactFloat64()
		res.TakeProfit = decimal.Max(price.Sub(target), decimal.Zero).InexactFloat64()
	} else {
		res.StopLoss = decimal.Max(price.Sub(stopDistance), decimal.Zero).InexactFloat64()
		res.TakeProfit = price.Add(target).InexactFloat64()
	}

	hundred := decimal.NewFromInt(100)
	equity := decimal.NewFromFloat(r.cfg.EquityUSD)
	riskAmount := equity.Mul(decimal.NewFromFloat(r.cfg.RiskPct)).Div(hundred)
	qty := riskAmount.Div(stopDistance)
	notional := qty.Mul(price)
	maxNotional := equity.Mul(decimal.NewFromFloat(r.cfg.MaxPositionPct)).Div(hundred)
	if notional.GreaterThan(maxNotional) {
		notional = maxNotional
		qty = maxNotional.Div(price)
		res.Capped = true
	}
	res.RiskAmountUSD = riskAmount.Round(2).InexactFloat64()
	res.PositionSizeUSD = notional.Round(2).InexactFloat64()
	res.Quantity = qty.Round(6).InexactFloat64()

	res.Header.Confidence = levelConfidence(res.Level)
	res.Header.Summary = fmt.Sprintf("%s risk (vol %.2f%%, ATR %s): %s size %.2f USD, SL %.4f, TP %.4f",
		res.Level, res.VolatilityPct, source, res.Direction, res.PositionSizeUSD, res.StopLoss, res.TakeProfit)
	res.Header.Elapsed = time.Since(start)
	return res, nil
}

// atr 优先用 K 线计算 ATR，数据不足时按默认波动率估算。
func (r *Risk) atr(candles market.Candles, price float64) (float64, string) {
	if len(candles) > r.cfg.ATRPeriod {
		if v, ok := last(talib.Atr(candles.Highs(), candles.Lows(), candles.Closes(), r.cfg.ATRPeriod)); ok {
			return v, "atr"
		}
	}
	return price * r.cfg.DefaultVolatilityPct / 100, "default"
}

func levelFor(volPct float64) RiskLevel {
	switch {
	case volPct < 1:
		return RiskLow
	case volPct < 3:
		return RiskMedium
	case volPct < 6:
		return RiskHigh
	default:
		return RiskExtreme
	}
}

func levelConfidence(level RiskLevel) float64 {
	switch level {
	case RiskLow:
		return 0.9
	case RiskMedium:
		return 0.75
	case RiskHigh:
		return 0.5
	default:
		return 0.2
	}
}

var _ pipeline.Step = (*Risk)(nil)
