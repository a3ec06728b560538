package market

import (
	"sort"
	"sync"
	"time"
)

// defaultReferencePrices 是已知标的的兜底参考价，仅在实时数据与应急缓存都缺失时使用。
var defaultReferencePrices = map[string]float64{
	"BTCUSDT": 60000,
	"ETHUSDT": 3000,
	"SOLUSDT": 150,
	"BNBUSDT": 550,
	"XRPUSDT": 0.55,
}

// DefaultSnapshot 从硬编码表中返回兜底快照，只含参考价。
func DefaultSnapshot(symbol string) (Snapshot, bool) {
	sym := NormalizeSymbol(symbol)
	price, ok := defaultReferencePrices[sym]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Symbol: sym, LastPrice: price, Origin: OriginDefault}, true
}

// CacheEntry 是应急缓存中的一条最近一次成功数据。
type CacheEntry struct {
	Symbol    string    `json:"symbol"`
	Snapshot  Snapshot  `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
	LastPrice float64   `json:"last_price"`
}

// EmergencyCache 保存每个 symbol 最近一次成功获取的快照，供熔断期间降级使用。
type EmergencyCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	clock   func() time.Time
}

func NewEmergencyCache() *EmergencyCache {
	return &EmergencyCache{
		entries: make(map[string]CacheEntry),
		clock:   time.Now,
	}
}

func (c *EmergencyCache) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock()
}

// Store 写入最近一次成功数据。
func (c *EmergencyCache) Store(symbol string, snap Snapshot) {
	sym := NormalizeSymbol(symbol)
	if sym == "" || !snap.Usable() {
		return
	}
	entry := CacheEntry{
		Symbol:    sym,
		Snapshot:  snap.Clone(),
		UpdatedAt: c.now(),
		LastPrice: snap.LastPrice,
	}
	c.mu.Lock()
	c.entries[sym] = entry
	c.mu.Unlock()
}

// Lookup 读取缓存副本。
func (c *EmergencyCache) Lookup(symbol string) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[NormalizeSymbol(symbol)]
	c.mu.RUnlock()
	if !ok {
		return CacheEntry{}, false
	}
	entry.Snapshot = entry.Snapshot.Clone()
	return entry, true
}

// Entries 返回按 symbol 排序的全部条目（不含 K 线）。
func (c *EmergencyCache) Entries() []CacheEntry {
	c.mu.RLock()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, CacheEntry{Symbol: e.Symbol, UpdatedAt: e.UpdatedAt, LastPrice: e.LastPrice})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *EmergencyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *EmergencyCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]CacheEntry)
	c.mu.Unlock()
}
