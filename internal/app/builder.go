package app

import (
	"context"
	"fmt"

	"tradeagent/internal/agent"
	"tradeagent/internal/config"
	"tradeagent/internal/gateway"
	"tradeagent/internal/gateway/provider"
	"tradeagent/internal/logger"
	"tradeagent/internal/market"
	"tradeagent/internal/metrics"
	"tradeagent/internal/pipeline"
	"tradeagent/internal/pipeline/agents"
	"tradeagent/internal/pipeline/factory"
	"tradeagent/internal/store/decisionlog"
	"tradeagent/internal/store/gormstore"
	"tradeagent/internal/telemetry"
	livehttp "tradeagent/internal/transport/http/live"
)

// AppBuilder 组装全部依赖；各构造步骤以函数字段暴露，便于测试替换。
type AppBuilder struct {
	cfg *config.Config

	sourceFn      func(config.MarketConfig) (market.Source, error)
	modelFn       func(config.LLMConfig) provider.ModelProvider
	reportStoreFn func(string) (*gormstore.ReportStore, error)
	decisionLogFn func(string) (*decisionlog.Store, error)
	tracingFn     func(context.Context, config.TelemetryConfig) (telemetry.ShutdownFunc, error)
	httpFn        func(config.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithMarketSource 替换上游行情源；传 nil 等价于 offline。
func WithMarketSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(config.MarketConfig) (market.Source, error) { return src, nil }
	}
}

// WithModelProvider 替换决策步骤使用的 LLM。
func WithModelProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.modelFn = func(config.LLMConfig) provider.ModelProvider { return p }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		sourceFn:      gateway.NewSourceFromConfig,
		modelFn:       buildModelProvider,
		reportStoreFn: gormstore.NewReportStore,
		decisionLogFn: decisionlog.Open,
		tracingFn:     setupTracing,
		httpFn:        buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	app := &App{cfg: cfg}
	success := false
	defer func() {
		if !success {
			_ = app.Close()
		}
	}()

	stopTracing, err := b.tracingFn(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("初始化 tracing 失败: %w", err)
	}
	app.stopTracing = stopTracing

	stack, err := buildMarketStack(cfg, b.sourceFn)
	if err != nil {
		return nil, err
	}
	app.gate = stack.Gate

	var (
		reports   *gormstore.ReportStore
		decisions *decisionlog.Store
	)
	if path := cfg.Store.ReportsPath; path != "" {
		reports, err = b.reportStoreFn(path)
		if err != nil {
			return nil, fmt.Errorf("初始化报告存储失败: %w", err)
		}
		app.closers = append(app.closers, namedCloser{name: "report store", c: reports})
		logger.Infof("✓ 报告存储: %s", path)
	}
	if path := cfg.Store.DecisionLogPath; path != "" {
		decisions, err = b.decisionLogFn(path)
		if err != nil {
			return nil, fmt.Errorf("初始化决策日志失败: %w", err)
		}
		app.closers = append(app.closers, namedCloser{name: "decision log", c: decisions})
		logger.Infof("✓ 决策日志: %s", path)
	}

	model := b.modelFn(cfg.LLM)
	var recorder agents.DecisionRecorder
	if decisions != nil {
		recorder = decisions
	}
	steps := &factory.Factory{
		Interval: cfg.Market.PrimaryInterval(),
		Risk:     cfg.Risk,
		Model:    model,
		Recorder: recorder,
	}
	registry, err := steps.BuildRegistry(cfg.Pipeline.Steps)
	if err != nil {
		return nil, fmt.Errorf("初始化流水线失败: %w", err)
	}
	app.registry = registry
	logger.Infof("✓ 流水线步骤: %v", registry.IDs())

	app.collector = metrics.NewCollector()
	orchestrator := pipeline.NewOrchestrator(registry, stack.Gate, app.collector)
	batch := pipeline.NewBatch(orchestrator, cfg.Batch.MaxConcurrency)

	var saver agent.ReportSaver
	if reports != nil {
		saver = reports
	}
	app.service = agent.NewService(orchestrator, batch, saver)

	promReg, err := metrics.NewRegistry(metrics.NewPrometheusCollector(app.collector, stack.Gate.Stats))
	if err != nil {
		return nil, fmt.Errorf("初始化 metrics 失败: %w", err)
	}
	serverCfg := livehttp.ServerConfig{
		Analysis:       app.service,
		Stats:          app.collector,
		Gate:           stack.Gate,
		MetricsHandler: metrics.Handler(promReg),
		ChartInterval:  cfg.Market.PrimaryInterval(),
	}
	if reports != nil {
		serverCfg.Reports = reports
	}
	if decisions != nil {
		serverCfg.Decisions = decisions
	}
	app.httpServer, err = b.httpFn(cfg.App, serverCfg)
	if err != nil {
		return nil, err
	}

	app.Summary = buildSummary(cfg, registry, model)
	success = true
	return app, nil
}

func setupTracing(ctx context.Context, cfg config.TelemetryConfig) (telemetry.ShutdownFunc, error) {
	return telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Endpoint,
		Environment: cfg.Environment,
		Insecure:    cfg.Insecure,
		Version:     Version,
	})
}

func buildModelProvider(cfg config.LLMConfig) provider.ModelProvider {
	p := provider.BuildFromConfig(provider.ModelCfg{
		ID:          cfg.ID,
		Provider:    cfg.Provider,
		APIURL:      cfg.APIURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Enabled:     cfg.Enabled,
		Headers:     cfg.Headers,
		Timeout:     cfg.Timeout(),
		MaxRetries:  cfg.MaxRetries,
		Temperature: cfg.Temperature,
	})
	if p == nil {
		logger.Infof("LLM 未启用，决策步骤使用规则兜底")
		return nil
	}
	logger.Infof("✓ LLM provider: %s", p.ID())
	return p
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}
