package market

import (
	"sort"
	"strings"
	"time"
)

// Origin 标记快照来源。
type Origin string

const (
	OriginLive      Origin = "live"
	OriginEmergency Origin = "emergency"
	OriginDefault   Origin = "default"
)

// Snapshot 是一次运行的外部输入，获取后只读。
type Snapshot struct {
	Symbol      string              `json:"symbol"`
	Candles     map[string][]Candle `json:"candles,omitempty"`
	LastPrice   float64             `json:"last_price"`
	FundingRate float64             `json:"funding_rate"`
	FetchedAt   time.Time           `json:"fetched_at"`
	Origin      Origin              `json:"origin"`
}

// NormalizeSymbol 统一 symbol 写法：去空白、去分隔符、大写。
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// Usable 判断快照是否含有可供分析的数据。
func (s Snapshot) Usable() bool {
	if s.LastPrice > 0 {
		return true
	}
	for _, cs := range s.Candles {
		if len(cs) > 0 {
			return true
		}
	}
	return false
}

// CandlesFor 返回指定周期 K 线的副本。
func (s Snapshot) CandlesFor(interval string) Candles {
	data := s.Candles[strings.ToLower(strings.TrimSpace(interval))]
	if len(data) == 0 {
		return nil
	}
	out := make(Candles, len(data))
	copy(out, data)
	return out
}

// Intervals 返回已有周期（排序后）。
func (s Snapshot) Intervals() []string {
	out := make([]string, 0, len(s.Candles))
	for iv, cs := range s.Candles {
		if len(cs) > 0 {
			out = append(out, iv)
		}
	}
	sort.Strings(out)
	return out
}

// Clone 深拷贝，保证缓存与运行上下文之间不共享底层切片。
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Candles != nil {
		out.Candles = make(map[string][]Candle, len(s.Candles))
		for iv, cs := range s.Candles {
			dst := make([]Candle, len(cs))
			copy(dst, cs)
			out.Candles[iv] = dst
		}
	}
	return out
}

// WithOrigin 返回标记了来源的副本。
func (s Snapshot) WithOrigin(origin Origin) Snapshot {
	out := s.Clone()
	out.Origin = origin
	return out
}
