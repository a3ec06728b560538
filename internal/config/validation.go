package config

import (
	"fmt"
	"strings"
)

var knownSteps = map[string]bool{"technical": true, "risk": true, "decision": true}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if c.Batch.MaxConcurrency < 0 {
		return fmt.Errorf("batch.max_concurrency must be >= 0")
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	return c.LLM.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("app.log_level %q is not supported", a.LogLevel)
	}
}

func (g *GateConfig) validate() error {
	if g.FailureThreshold <= 0 {
		return fmt.Errorf("gate.failure_threshold must be > 0")
	}
	if g.RecoveryWindowSeconds <= 0 {
		return fmt.Errorf("gate.recovery_window_seconds must be > 0")
	}
	if g.ProbeBudget <= 0 {
		return fmt.Errorf("gate.probe_budget must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case MarketSourceBinance:
		if strings.TrimSpace(m.RESTBaseURL) == "" {
			return fmt.Errorf("market.rest_base_url is required for binance")
		}
	case MarketSourceOffline:
	default:
		return fmt.Errorf("market.source %q is not supported", m.Source)
	}
	if m.Limit <= 0 {
		return fmt.Errorf("market.limit must be > 0")
	}
	if m.CacheTTLSeconds < 0 {
		return fmt.Errorf("market.cache_ttl_seconds must be >= 0")
	}
	if m.ProxyEnabled && strings.TrimSpace(m.RESTProxyURL) == "" {
		return fmt.Errorf("market.rest_proxy_url is required when proxy is enabled")
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline.steps requires at least one step")
	}
	ids := make(map[string]bool, len(p.Steps))
	for i, st := range p.Steps {
		if !knownSteps[st.Name] {
			return fmt.Errorf("pipeline.steps[%d]: unknown step %q", i, st.Name)
		}
		id := st.ID
		if id == "" {
			id = st.Name
		}
		if ids[id] {
			return fmt.Errorf("pipeline.steps[%d]: duplicate step id %q", i, id)
		}
		ids[id] = true
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPct > 100 || r.MaxPositionPct > 100 {
		return fmt.Errorf("risk percentages must be within 0-100")
	}
	return nil
}

func (l *LLMConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required when llm is enabled")
	}
	if strings.TrimSpace(l.APIURL) == "" {
		return fmt.Errorf("llm.api_url is required when llm is enabled")
	}
	return nil
}
