package binance

import (
	"strconv"
	"strings"
	"time"

	"tradeagent/internal/market"
)

// klineCloseGrace 给 Binance 收盘推送留出的宽限时间。
const klineCloseGrace = 2 * time.Second

// ParseIntervalDuration parses "15m", "1h", "4h", "1d", "1w" into time.Duration.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(strings.TrimSpace(interval[:len(interval)-1]))
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// dropUnclosed 去掉尚未收盘的最后一根 K 线，避免指标基于半根 K 线计算。
func dropUnclosed(klines []market.Candle, interval time.Duration, now time.Time) []market.Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	cutoff := last.OpenTime + interval.Milliseconds() + klineCloseGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return klines[:len(klines)-1]
	}
	return klines
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
