package app

import (
	"fmt"

	"tradeagent/internal/config"
	"tradeagent/internal/logger"
	"tradeagent/internal/market"
	"tradeagent/internal/pkg/circuit"
)

type MarketStack struct {
	Source market.Source
	Gate   *market.Gate
}

func buildMarketStack(cfg *config.Config, sourceFn func(config.MarketConfig) (market.Source, error)) (*MarketStack, error) {
	src, err := sourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	if src == nil {
		logger.Infof("行情源为 offline，仅使用应急缓存与默认参考价")
	} else if ttl := cfg.Market.CacheTTL(); ttl > 0 {
		src = market.NewCachedSource(src, ttl)
		logger.Infof("✓ 行情缓存 TTL=%s", ttl)
	}

	breaker := circuit.NewCircuitBreaker("market", circuit.Config{
		Threshold:      cfg.Gate.FailureThreshold,
		RecoveryWindow: cfg.Gate.RecoveryWindow(),
		ProbeBudget:    cfg.Gate.ProbeBudget,
	})
	gateLog := logger.Component("gate")
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		if to == circuit.StateOpen {
			gateLog.Warnf("%s breaker %s -> %s", name, from, to)
			return
		}
		gateLog.Infof("%s breaker %s -> %s", name, from, to)
	})
	return &MarketStack{Source: src, Gate: market.NewGate(src, breaker, nil)}, nil
}
