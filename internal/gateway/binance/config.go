package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	// Intervals 是每次快照抓取的 K 线周期，Limit 为每个周期的根数。
	Intervals []string
	Limit     int

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	intervals := make([]string, 0, len(out.Intervals))
	seen := make(map[string]bool, len(out.Intervals))
	for _, iv := range out.Intervals {
		iv = strings.ToLower(strings.TrimSpace(iv))
		if iv == "" || seen[iv] {
			continue
		}
		seen[iv] = true
		intervals = append(intervals, iv)
	}
	if len(intervals) == 0 {
		intervals = []string{"1h"}
	}
	out.Intervals = intervals
	if out.Limit <= 0 {
		out.Limit = 200
	}
	if out.Limit > maxHistoryLimit {
		out.Limit = maxHistoryLimit
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}
