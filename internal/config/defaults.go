package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultGateThreshold     = 5
	defaultGateRecovery      = 60
	defaultGateProbes        = 3
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketInterval    = "1h"
	defaultMarketLimit       = 200
	defaultMarketHTTPTimeout = 15
	defaultMarketCacheTTL    = 30
	defaultRiskEquity        = 10000
	defaultRiskPct           = 1
	defaultRiskMaxPosition   = 20
	defaultRiskVolatility    = 2
	defaultLLMProvider       = "openai"
	defaultLLMAPIURL         = "https://api.openai.com/v1"
	defaultLLMTimeout        = 60
	defaultReportsPath       = "data/reports.db"
	defaultDecisionLogPath   = "data/decisions.db"
	defaultTelemetryService  = "tradeagent"
)

// DefaultSteps 是未配置 pipeline.steps 时使用的固定步骤序列。
func DefaultSteps() []StepConfig {
	return []StepConfig{
		{Name: "technical", Priority: 10},
		{Name: "risk", Priority: 20},
		{Name: "decision", Priority: 30},
	}
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Pipeline.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.LLM.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Telemetry.applyDefaults(keys, c.App.Env)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("gate.failure_threshold", &g.FailureThreshold, defaultGateThreshold),
		intFieldDefault("gate.recovery_window_seconds", &g.RecoveryWindowSeconds, defaultGateRecovery),
		intFieldDefault("gate.probe_budget", &g.ProbeBudget, defaultGateProbes),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, MarketSourceBinance),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.limit", &m.Limit, defaultMarketLimit),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketHTTPTimeout),
		fieldDefault{
			key:   "market.cache_ttl_seconds",
			need:  func() bool { return m.CacheTTLSeconds == 0 },
			apply: func() { m.CacheTTLSeconds = defaultMarketCacheTTL },
		},
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	m.Intervals = normalizeIntervals(m.Intervals)
	if len(m.Intervals) == 0 {
		m.Intervals = []string{defaultMarketInterval}
	}
}

func (p *PipelineConfig) applyDefaults(keys keySet) {
	if len(p.Steps) == 0 && !keys.isSet("pipeline.steps") {
		p.Steps = DefaultSteps()
	}
	for i := range p.Steps {
		p.Steps[i].Name = strings.ToLower(strings.TrimSpace(p.Steps[i].Name))
		p.Steps[i].ID = strings.TrimSpace(p.Steps[i].ID)
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.equity_usd", &r.EquityUSD, defaultRiskEquity),
		floatFieldDefault("risk.risk_pct", &r.RiskPct, defaultRiskPct),
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultRiskMaxPosition),
		floatFieldDefault("risk.default_volatility_pct", &r.DefaultVolatilityPct, defaultRiskVolatility),
	)
}

func (l *LLMConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("llm.provider", &l.Provider, defaultLLMProvider),
		stringFieldDefault("llm.api_url", &l.APIURL, defaultLLMAPIURL),
		intFieldDefault("llm.timeout_seconds", &l.TimeoutSeconds, defaultLLMTimeout),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.reports_path", &s.ReportsPath, defaultReportsPath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
	)
}

func (t *TelemetryConfig) applyDefaults(keys keySet, env string) {
	applyFieldDefaults(keys,
		stringFieldDefault("telemetry.service_name", &t.ServiceName, defaultTelemetryService),
		stringFieldDefault("telemetry.environment", &t.Environment, env),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeIntervals(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, iv := range in {
		iv = strings.ToLower(strings.TrimSpace(iv))
		if iv == "" || seen[iv] {
			continue
		}
		seen[iv] = true
		out = append(out, iv)
	}
	return out
}
