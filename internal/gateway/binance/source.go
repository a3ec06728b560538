package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradeagent/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client
	clock  func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client, clock: time.Now}, nil
}

// FetchSnapshot 拉取配置的全部周期 K 线以及标记价格/资金费率。
// 任一周期失败即整体失败，由 Gate 负责记录熔断计数。
func (s *Source) FetchSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if s == nil || s.client == nil {
		return market.Snapshot{}, fmt.Errorf("binance source not initialized")
	}
	sym := market.NormalizeSymbol(symbol)
	if sym == "" {
		return market.Snapshot{}, fmt.Errorf("symbol is required")
	}
	snap := market.Snapshot{
		Symbol:  sym,
		Candles: make(map[string][]market.Candle, len(s.cfg.Intervals)),
	}
	for _, iv := range s.cfg.Intervals {
		candles, err := s.FetchHistory(ctx, sym, iv, s.cfg.Limit)
		if err != nil {
			return market.Snapshot{}, fmt.Errorf("klines %s %s: %w", sym, iv, err)
		}
		if len(candles) > 0 {
			snap.Candles[iv] = candles
		}
	}
	price, funding, err := s.premiumIndex(ctx, sym)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("premium index %s: %w", sym, err)
	}
	snap.LastPrice = price
	snap.FundingRate = funding
	if snap.LastPrice <= 0 {
		if last, ok := market.Candles(snap.Candles[s.cfg.Intervals[0]]).Last(); ok {
			snap.LastPrice = last.Close
		}
	}
	snap.FetchedAt = s.clock().UTC()
	return snap, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			TakerBuy:  parseFloat(kl.TakerBuyBaseAssetVolume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := ParseIntervalDuration(interval); ok {
		out = dropUnclosed(out, dur, s.clock().UTC())
	}
	return out, nil
}

// premiumIndex 返回标记价格与最新资金费率（例如 0.0001 即 0.01%）。
func (s *Source) premiumIndex(ctx context.Context, symbol string) (float64, float64, error) {
	res, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range res {
		if entry == nil {
			continue
		}
		if strings.EqualFold(entry.Symbol, symbol) {
			return parseFloat(entry.MarkPrice), parseFloat(entry.LastFundingRate), nil
		}
	}
	if len(res) > 0 && res[0] != nil {
		return parseFloat(res[0].MarkPrice), parseFloat(res[0].LastFundingRate), nil
	}
	return 0, 0, fmt.Errorf("premium index not available for %s", symbol)
}
