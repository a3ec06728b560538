package gateway

import (
	"fmt"
	"strings"

	"tradeagent/internal/config"
	"tradeagent/internal/gateway/binance"
	"tradeagent/internal/market"
)

// NewSourceFromConfig 按 market.source 构造上游数据源；offline 返回 nil，由 Gate 只走兜底数据。
func NewSourceFromConfig(cfg config.MarketConfig) (market.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", config.MarketSourceBinance, "binance-futures":
		src, err := binance.New(binance.Config{
			RESTBaseURL:  cfg.RESTBaseURL,
			HTTPTimeout:  cfg.HTTPTimeout(),
			Intervals:    cfg.Intervals,
			Limit:        cfg.Limit,
			ProxyEnabled: cfg.ProxyEnabled,
			RESTProxyURL: cfg.RESTProxyURL,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.MarketSourceOffline:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported market source: %s", cfg.Source)
	}
}
