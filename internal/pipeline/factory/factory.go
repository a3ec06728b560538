package factory

import (
	"fmt"
	"strconv"
	"strings"

	"tradeagent/internal/config"
	"tradeagent/internal/gateway/provider"
	"tradeagent/internal/logger"
	"tradeagent/internal/pipeline"
	"tradeagent/internal/pipeline/agents"
)

// Factory 把 pipeline.steps 配置翻译成具体步骤。
type Factory struct {
	Interval string
	Risk     config.RiskConfig
	Model    provider.ModelProvider
	Recorder agents.DecisionRecorder
}

func (f *Factory) Build(cfg config.StepConfig) (pipeline.Step, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case agents.TechnicalID:
		return f.buildTechnical(cfg), nil
	case agents.RiskID:
		return f.buildRisk(cfg), nil
	case agents.DecisionID:
		return f.buildDecision(cfg)
	default:
		return nil, fmt.Errorf("unknown step: %s", cfg.Name)
	}
}

// BuildRegistry 构造全部步骤并组装成注册表。
func (f *Factory) BuildRegistry(cfgs []config.StepConfig) (*pipeline.Registry, error) {
	steps := make([]pipeline.Step, 0, len(cfgs))
	for _, c := range cfgs {
		st, err := f.Build(c)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return pipeline.NewRegistry(steps...)
}

func (f *Factory) interval(params map[string]any) string {
	if iv := stringFromCfg(params, "interval"); iv != "" {
		return iv
	}
	return f.Interval
}

func (f *Factory) buildTechnical(cfg config.StepConfig) pipeline.Step {
	return agents.NewTechnical(agents.TechnicalConfig{
		ID:         cfg.ID,
		Priority:   cfg.Priority,
		Interval:   f.interval(cfg.Params),
		RSIPeriod:  intFromCfg(cfg.Params, "rsi_period"),
		Overbought: floatFromCfg(cfg.Params, "overbought"),
		Oversold:   floatFromCfg(cfg.Params, "oversold"),
		MACDFast:   intFromCfg(cfg.Params, "macd_fast"),
		MACDSlow:   intFromCfg(cfg.Params, "macd_slow"),
		MACDSignal: intFromCfg(cfg.Params, "macd_signal"),
		EMAFast:    intFromCfg(cfg.Params, "ema_fast"),
		EMASlow:    intFromCfg(cfg.Params, "ema_slow"),
	})
}

func (f *Factory) buildRisk(cfg config.StepConfig) pipeline.Step {
	rc := agents.RiskConfig{
		ID:                   cfg.ID,
		Priority:             cfg.Priority,
		Interval:             f.interval(cfg.Params),
		TechnicalStep:        stringFromCfg(cfg.Params, "technical_step"),
		ATRPeriod:            intFromCfg(cfg.Params, "atr_period"),
		StopATRMultiple:      floatFromCfg(cfg.Params, "stop_atr_multiple"),
		RewardRatio:          floatFromCfg(cfg.Params, "reward_ratio"),
		EquityUSD:            f.Risk.EquityUSD,
		RiskPct:              f.Risk.RiskPct,
		MaxPositionPct:       f.Risk.MaxPositionPct,
		DefaultVolatilityPct: f.Risk.DefaultVolatilityPct,
	}
	if v := floatFromCfg(cfg.Params, "risk_pct"); v > 0 {
		rc.RiskPct = v
	}
	return agents.NewRisk(rc)
}

func (f *Factory) buildDecision(cfg config.StepConfig) (pipeline.Step, error) {
	return agents.NewDecision(agents.DecisionConfig{
		ID:            cfg.ID,
		Priority:      cfg.Priority,
		TechnicalStep: stringFromCfg(cfg.Params, "technical_step"),
		RiskStep:      stringFromCfg(cfg.Params, "risk_step"),
		MaxTokens:     intFromCfg(cfg.Params, "max_tokens"),
	}, f.Model, f.Recorder)
}

func stringFromCfg(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	raw, ok := params[key]
	if !ok || raw == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", raw))
}

func intFromCfg(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		val, err := strconv.Atoi(strings.TrimSpace(fmt.Sprintf("%v", v)))
		if err != nil {
			logger.Warnf("step param %s invalid int: %v", key, err)
			return 0
		}
		return val
	}
}

func floatFromCfg(params map[string]any, key string) float64 {
	if params == nil {
		return 0
	}
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		val, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", v)), 64)
		if err != nil {
			logger.Warnf("step param %s invalid float: %v", key, err)
			return 0
		}
		return val
	}
}
