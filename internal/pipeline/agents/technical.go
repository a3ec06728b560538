package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"tradeagent/internal/market"
	"tradeagent/internal/pipeline"

	talib "github.com/markcheno/go-talib"
)

const TechnicalID = "technical"

type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// TechnicalConfig 控制指标参数，零值使用常见默认值。
type TechnicalConfig struct {
	ID         string
	Priority   int
	Interval   string
	RSIPeriod  int
	Overbought float64
	Oversold   float64
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	EMAFast    int
	EMASlow    int
}

func (c TechnicalConfig) withDefaults() TechnicalConfig {
	c.ID = nameOrDefault(c.ID, TechnicalID)
	c.Interval = intervalOrDefault(c.Interval)
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.Overbought <= 0 {
		c.Overbought = 70
	}
	if c.Oversold <= 0 {
		c.Oversold = 30
	}
	if c.MACDFast <= 0 {
		c.MACDFast = 12
	}
	if c.MACDSlow <= 0 {
		c.MACDSlow = 26
	}
	if c.MACDSignal <= 0 {
		c.MACDSignal = 9
	}
	if c.EMAFast <= 0 {
		c.EMAFast = 21
	}
	if c.EMASlow <= 0 {
		c.EMASlow = 50
	}
	return c
}

// MinCandles 是计算全部指标所需的最少 K 线数。
func (c TechnicalConfig) MinCandles() int {
	need := c.RSIPeriod + 1
	if v := c.MACDSlow + c.MACDSignal; v > need {
		need = v
	}
	if v := c.EMASlow + 1; v > need {
		need = v
	}
	return need
}

// TechnicalResult 是技术面步骤的输出。
type TechnicalResult struct {
	Header     pipeline.ResultMeta `json:"meta"`
	Interval   string              `json:"interval"`
	Close      float64             `json:"close"`
	RSI        float64             `json:"rsi"`
	RSIStatus  string              `json:"rsi_status"`
	MACD       float64             `json:"macd"`
	MACDSignal float64             `json:"macd_signal"`
	MACDHist   float64             `json:"macd_hist"`
	EMAFast    float64             `json:"ema_fast"`
	EMASlow    float64             `json:"ema_slow"`
	Score      int                 `json:"score"`
	Signal     Signal              `json:"signal"`
	OrderFlow  *market.OrderFlow   `json:"order_flow,omitempty"`
}

func (r *TechnicalResult) Meta() pipeline.ResultMeta { return r.Header }

// Technical 计算 RSI / MACD / EMA 并给出方向信号。
type Technical struct {
	cfg TechnicalConfig
}

func NewTechnical(cfg TechnicalConfig) *Technical {
	return &Technical{cfg: cfg.withDefaults()}
}

func (t *Technical) ID() string              { return t.cfg.ID }
func (t *Technical) Priority() int           { return t.cfg.Priority }
func (t *Technical) Config() TechnicalConfig { return t.cfg }

func (t *Technical) CanRun(rc *pipeline.RunContext) bool {
	return len(rc.Input().CandlesFor(t.cfg.Interval)) >= t.cfg.MinCandles()
}

func (t *Technical) Run(_ context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
	start := time.Now()
	candles := rc.Input().CandlesFor(t.cfg.Interval)
	series := candles.Closes()

	rsi, ok := last(talib.Rsi(series, t.cfg.RSIPeriod))
	if !ok {
		return nil, pipeline.Reject(t.cfg.ID, "rsi unavailable for %s", t.cfg.Interval)
	}
	macdLine, signalLine, hist := talib.Macd(series, t.cfg.MACDFast, t.cfg.MACDSlow, t.cfg.MACDSignal)
	macd, ok1 := last(macdLine)
	signal, ok2 := last(signalLine)
	histVal, ok3 := last(hist)
	if !ok1 || !ok2 || !ok3 {
		return nil, pipeline.Reject(t.cfg.ID, "macd unavailable for %s", t.cfg.Interval)
	}
	emaFast, ok1 := last(talib.Ema(series, t.cfg.EMAFast))
	emaSlow, ok2 := last(talib.Ema(series, t.cfg.EMASlow))
	if !ok1 || !ok2 || emaSlow == 0 {
		return nil, pipeline.Reject(t.cfg.ID, "ema unavailable for %s", t.cfg.Interval)
	}

	res := &TechnicalResult{
		Header:     pipeline.NewMeta(t.cfg.ID, pipeline.KindTechnical, rc.Subject),
		Interval:   t.cfg.Interval,
		Close:      series[len(series)-1],
		RSI:        round(rsi, 2),
		MACD:       macd,
		MACDSignal: signal,
		MACDHist:   histVal,
		EMAFast:    emaFast,
		EMASlow:    emaSlow,
	}
	res.RSIStatus, res.Score = t.score(rsi, histVal, emaFast, emaSlow)
	switch {
	case res.Score >= 2:
		res.Signal = SignalBullish
	case res.Score <= -2:
		res.Signal = SignalBearish
	default:
		res.Signal = SignalNeutral
	}
	if flow, ok := candles.OrderFlow(); ok {
		res.OrderFlow = &flow
	}
	res.Header.Confidence = clamp(0.4+0.2*math.Abs(float64(res.Score)), 0, 1)
	res.Header.Summary = fmt.Sprintf("%s %s: RSI(%d)=%.2f %s, MACD hist=%.4f, EMA%d/EMA%d=%.4f/%.4f",
		strings.ToUpper(t.cfg.Interval), res.Signal, t.cfg.RSIPeriod, rsi, res.RSIStatus,
		histVal, t.cfg.EMAFast, t.cfg.EMASlow, emaFast, emaSlow)
	if res.OrderFlow != nil {
		res.Header.Summary += fmt.Sprintf(", CVD %s", res.OrderFlow.Divergence)
	}
	res.Header.Elapsed = time.Since(start)
	return res, nil
}

// score 每个指标贡献 +1/-1，RSI 处于中性区间时不计分。
func (t *Technical) score(rsi, hist, emaFast, emaSlow float64) (string, int) {
	score := 0
	status := "neutral"
	switch {
	case rsi >= t.cfg.Overbought:
		status = "overbought"
		score--
	case rsi <= t.cfg.Oversold:
		status = "oversold"
		score++
	}
	if hist > 0 {
		score++
	} else if hist < 0 {
		score--
	}
	if emaFast > emaSlow {
		score++
	} else if emaFast < emaSlow {
		score--
	}
	return status, score
}

var _ pipeline.Step = (*Technical)(nil)
