package config

import (
	"strings"
	"time"
)

// Config 是 tradeagent 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Gate      GateConfig      `toml:"gate"`
	Market    MarketConfig    `toml:"market"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Batch     BatchConfig     `toml:"batch"`
	Risk      RiskConfig      `toml:"risk"`
	LLM       LLMConfig       `toml:"llm"`
	Store     StoreConfig     `toml:"store"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// GateConfig 控制行情熔断器。
type GateConfig struct {
	FailureThreshold      int `toml:"failure_threshold"`
	RecoveryWindowSeconds int `toml:"recovery_window_seconds"`
	ProbeBudget           int `toml:"probe_budget"`
}

func (g GateConfig) RecoveryWindow() time.Duration {
	return time.Duration(g.RecoveryWindowSeconds) * time.Second
}

// MarketConfig 描述上游行情源。source 为 offline 时只使用应急缓存与默认表。
type MarketConfig struct {
	Source             string   `toml:"source"`
	RESTBaseURL        string   `toml:"rest_base_url"`
	Intervals          []string `toml:"intervals"`
	Limit              int      `toml:"limit"`
	HTTPTimeoutSeconds int      `toml:"http_timeout_seconds"`
	CacheTTLSeconds    int      `toml:"cache_ttl_seconds"`
	ProxyEnabled       bool     `toml:"proxy_enabled"`
	RESTProxyURL       string   `toml:"rest_proxy_url"`
}

const (
	MarketSourceBinance = "binance"
	MarketSourceOffline = "offline"
)

func (m MarketConfig) HTTPTimeout() time.Duration {
	return time.Duration(m.HTTPTimeoutSeconds) * time.Second
}

func (m MarketConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// PrimaryInterval 是指标计算默认使用的周期。
func (m MarketConfig) PrimaryInterval() string {
	if len(m.Intervals) == 0 {
		return defaultMarketInterval
	}
	return strings.ToLower(strings.TrimSpace(m.Intervals[0]))
}

type PipelineConfig struct {
	Steps []StepConfig `toml:"steps"`
}

// StepConfig 对应 pipeline.steps 中的一项。
type StepConfig struct {
	Name     string         `toml:"name"`
	ID       string         `toml:"id"`
	Priority int            `toml:"priority"`
	Params   map[string]any `toml:"params"`
}

type BatchConfig struct {
	MaxConcurrency int `toml:"max_concurrency"`
}

// RiskConfig 百分比以 0-100 表示。
type RiskConfig struct {
	EquityUSD            float64 `toml:"equity_usd"`
	RiskPct              float64 `toml:"risk_pct"`
	MaxPositionPct       float64 `toml:"max_position_pct"`
	DefaultVolatilityPct float64 `toml:"default_volatility_pct"`
}

type LLMConfig struct {
	Enabled        bool              `toml:"enabled"`
	ID             string            `toml:"id"`
	Provider       string            `toml:"provider"`
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxRetries     int               `toml:"max_retries"`
	Temperature    float64           `toml:"temperature"`
	Headers        map[string]string `toml:"headers"`
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	ReportsPath     string `toml:"reports_path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

type TelemetryConfig struct {
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	Environment string `toml:"environment"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
