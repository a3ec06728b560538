package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"tradeagent/internal/config"
	"tradeagent/internal/gateway/provider"
	"tradeagent/internal/pipeline"
)

// Version 在构建时通过 -ldflags "-X tradeagent/internal/app.Version=..." 注入。
var Version = "dev"

type StartupSummary struct {
	Env         string
	HTTPAddr    string
	Market      MarketSummary
	Steps       []string
	LLM         string
	Reports     string
	DecisionLog string
	Tracing     string
	Out         io.Writer
}

type MarketSummary struct {
	Source    string
	Intervals []string
	Limit     int
	CacheTTL  int
	Gate      string
}

func buildSummary(cfg *config.Config, registry *pipeline.Registry, model provider.ModelProvider) *StartupSummary {
	llm := "disabled (rules)"
	if model != nil {
		llm = model.ID()
	}
	tracing := "disabled"
	if cfg.Telemetry.Endpoint != "" {
		tracing = cfg.Telemetry.Endpoint
	}
	return &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Market: MarketSummary{
			Source:    cfg.Market.Source,
			Intervals: cfg.Market.Intervals,
			Limit:     cfg.Market.Limit,
			CacheTTL:  cfg.Market.CacheTTLSeconds,
			Gate: fmt.Sprintf("threshold=%d recovery=%s probes=%d",
				cfg.Gate.FailureThreshold, cfg.Gate.RecoveryWindow(), cfg.Gate.ProbeBudget),
		},
		Steps:       registry.IDs(),
		LLM:         llm,
		Reports:     cfg.Store.ReportsPath,
		DecisionLog: cfg.Store.DecisionLogPath,
		Tracing:     tracing,
	}
}

func (s *StartupSummary) Print() {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(out, strings.Repeat("=", 80))

	fmt.Fprintf(out, "  环境: %s | 版本: %s | HTTP: %s\n", orDash(s.Env), Version, orDash(s.HTTPAddr))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[行情 (MARKET)]")
	fmt.Fprintf(out, "  数据源: %s\n", orDash(s.Market.Source))
	fmt.Fprintf(out, "  周期: %s\n", formatList(s.Market.Intervals))
	fmt.Fprintf(out, "  K线根数: %d | 缓存TTL: %ds\n", s.Market.Limit, s.Market.CacheTTL)
	fmt.Fprintf(out, "  熔断: %s\n", s.Market.Gate)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[流水线 (PIPELINE)]")
	fmt.Fprintf(out, "  步骤: %s\n", formatList(s.Steps))
	fmt.Fprintf(out, "  LLM: %s\n", s.LLM)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[存储 (STORAGE)]")
	fmt.Fprintf(out, "  报告: %s\n", orDash(s.Reports))
	fmt.Fprintf(out, "  决策日志: %s\n", orDash(s.DecisionLog))
	fmt.Fprintf(out, "  Tracing: %s\n", s.Tracing)
	fmt.Fprintln(out, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
