package market

import (
	"context"
	"fmt"

	"tradeagent/internal/pkg/circuit"
)

// GateStats 汇总熔断器与应急缓存状态。
type GateStats struct {
	Breaker      circuit.Stats `json:"breaker"`
	CachedSymbol int           `json:"cached_symbols"`
	Entries      []CacheEntry  `json:"entries,omitempty"`
}

// Gate 包裹对上游数据源的每一次调用：熔断判定、成功写缓存、失败降级。
// Gate 本身不打日志，只返回数据与错误，由调用方决定如何记录。
type Gate struct {
	source  Source
	breaker *circuit.CircuitBreaker
	cache   *EmergencyCache
}

func NewGate(source Source, breaker *circuit.CircuitBreaker, cache *EmergencyCache) *Gate {
	if breaker == nil {
		breaker = circuit.NewCircuitBreaker("market", circuit.Config{})
	}
	if cache == nil {
		cache = NewEmergencyCache()
	}
	return &Gate{source: source, breaker: breaker, cache: cache}
}

func (g *Gate) Breaker() *circuit.CircuitBreaker { return g.breaker }

func (g *Gate) Cache() *EmergencyCache { return g.cache }

// Acquire 获取 symbol 的输入快照。实时调用被拒绝或失败时依次尝试应急缓存与默认表，
// 都没有则返回包装了 ErrNoData 的错误。
func (g *Gate) Acquire(ctx context.Context, symbol string) (Snapshot, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return Snapshot{}, fmt.Errorf("empty symbol: %w", ErrNoData)
	}
	var liveErr error
	if g.source != nil && g.breaker.Allow() {
		snap, err := g.source.FetchSnapshot(ctx, sym)
		switch {
		case err != nil:
			liveErr = err
		case !snap.Usable():
			liveErr = fmt.Errorf("upstream returned empty snapshot for %s", sym)
		}
		if liveErr == nil {
			g.breaker.RecordSuccess()
			if snap.Symbol == "" {
				snap.Symbol = sym
			}
			live := snap.WithOrigin(OriginLive)
			g.cache.Store(sym, live)
			return live, nil
		}
		g.breaker.RecordFailure()
	}
	if snap, ok := g.Fallback(sym); ok {
		return snap, nil
	}
	if liveErr != nil {
		return Snapshot{}, fmt.Errorf("%s: %w (upstream: %v)", sym, ErrNoData, liveErr)
	}
	return Snapshot{}, fmt.Errorf("%s: %w (breaker %s)", sym, ErrNoData, g.breaker.State())
}

// Fallback 按应急缓存 → 默认表的顺序返回兜底数据。
func (g *Gate) Fallback(symbol string) (Snapshot, bool) {
	if entry, ok := g.cache.Lookup(symbol); ok {
		return entry.Snapshot.WithOrigin(OriginEmergency), true
	}
	if snap, ok := DefaultSnapshot(symbol); ok {
		return snap, true
	}
	return Snapshot{}, false
}

func (g *Gate) Stats() GateStats {
	return GateStats{
		Breaker:      g.breaker.Snapshot(),
		CachedSymbol: g.cache.Len(),
		Entries:      g.cache.Entries(),
	}
}

// Reset 管理操作：熔断器复位，应急缓存保留。
func (g *Gate) Reset() {
	g.breaker.Reset()
}
