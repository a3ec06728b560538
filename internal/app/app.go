package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tradeagent/internal/agent"
	"tradeagent/internal/config"
	"tradeagent/internal/logger"
	"tradeagent/internal/market"
	"tradeagent/internal/metrics"
	"tradeagent/internal/pipeline"
	"tradeagent/internal/telemetry"
	livehttp "tradeagent/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
type App struct {
	cfg         *config.Config
	service     *agent.Service
	registry    *pipeline.Registry
	httpServer  *livehttp.Server
	collector   *metrics.Collector
	gate        *market.Gate
	closers     []namedCloser
	stopTracing telemetry.ShutdownFunc
	Summary     *StartupSummary
}

type namedCloser struct {
	name string
	c    io.Closer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.httpServer == nil {
		return fmt.Errorf("http server not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func (a *App) Service() *agent.Service { return a.service }

func (a *App) Collector() *metrics.Collector { return a.collector }

func (a *App) Gate() *market.Gate { return a.gate }

func (a *App) Registry() *pipeline.Registry { return a.registry }

func (a *App) HTTPServer() *livehttp.Server { return a.httpServer }

// Close 关闭存储并刷新 tracing，按打开的逆序执行。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			logger.Warnf("%s close failed: %v", nc.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	a.closers = nil
	if a.stopTracing != nil {
		if err := a.stopTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		a.stopTracing = nil
	}
	return errors.Join(errs...)
}
