package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradeagent/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveSnapshot(symbol string, price float64) Snapshot {
	return Snapshot{
		Symbol:    symbol,
		LastPrice: price,
		Candles: map[string][]Candle{
			"1h": {{OpenTime: 1, CloseTime: 2, Open: price, High: price, Low: price, Close: price}},
		},
		FetchedAt: time.Unix(1700000000, 0),
	}
}

type scriptedSource struct {
	calls atomic.Int32
	fail  atomic.Bool
	price float64
}

func (s *scriptedSource) FetchSnapshot(_ context.Context, symbol string) (Snapshot, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return Snapshot{}, errors.New("upstream down")
	}
	return liveSnapshot(symbol, s.price), nil
}

func TestGate_LiveSuccessFeedsEmergencyCache(t *testing.T) {
	src := &scriptedSource{price: 42}
	gate := NewGate(src, nil, nil)

	snap, err := gate.Acquire(context.Background(), "aave/usdt")
	require.NoError(t, err)
	assert.Equal(t, OriginLive, snap.Origin)
	assert.Equal(t, "AAVEUSDT", snap.Symbol)

	entry, ok := gate.Cache().Lookup("AAVEUSDT")
	require.True(t, ok)
	assert.Equal(t, 42.0, entry.LastPrice)
}

func TestGate_FallbackOrder(t *testing.T) {
	src := &scriptedSource{price: 61000}
	gate := NewGate(src, nil, nil)

	_, err := gate.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	src.fail.Store(true)
	snap, err := gate.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, OriginEmergency, snap.Origin)
	assert.Equal(t, 61000.0, snap.LastPrice)

	snap, err = gate.Acquire(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, OriginDefault, snap.Origin)
	assert.Equal(t, 3000.0, snap.LastPrice)

	_, err = gate.Acquire(context.Background(), "UNKNOWNUSDT")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGate_OpenBreakerSkipsUpstream(t *testing.T) {
	src := &scriptedSource{price: 1}
	src.fail.Store(true)
	breaker := circuit.NewCircuitBreaker("market", circuit.Config{Threshold: 2})
	gate := NewGate(src, breaker, nil)

	for i := 0; i < 2; i++ {
		_, _ = gate.Acquire(context.Background(), "DOGEUSDT")
	}
	require.Equal(t, circuit.StateOpen, breaker.State())
	calls := src.calls.Load()

	_, err := gate.Acquire(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, calls, src.calls.Load(), "open breaker must not reach upstream")

	snap, err := gate.Acquire(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, OriginDefault, snap.Origin)
}

func TestGate_UnusableSnapshotCountsAsFailure(t *testing.T) {
	empty := SourceFunc(func(context.Context, string) (Snapshot, error) {
		return Snapshot{}, nil
	})
	gate := NewGate(empty, nil, nil)
	_, err := gate.Acquire(context.Background(), "PEPEUSDT")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 1, gate.Stats().Breaker.Failures)
}

func TestGate_CachedSnapshotIsolation(t *testing.T) {
	gate := NewGate(&scriptedSource{price: 10}, nil, nil)
	snap, err := gate.Acquire(context.Background(), "LINKUSDT")
	require.NoError(t, err)
	snap.Candles["1h"][0].Close = -1

	entry, ok := gate.Cache().Lookup("LINKUSDT")
	require.True(t, ok)
	assert.Equal(t, 10.0, entry.Snapshot.Candles["1h"][0].Close)
}

func TestCachedSource_TTL(t *testing.T) {
	src := &scriptedSource{price: 5}
	cached := NewCachedSource(src, time.Minute)
	now := time.Unix(1700000000, 0)
	cached.Cache().SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := cached.FetchSnapshot(context.Background(), "ADAUSDT")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, src.calls.Load())

	now = now.Add(time.Minute)
	_, err := cached.FetchSnapshot(context.Background(), "ADAUSDT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Equal(t, 0, cached.Cache().Purge())
}

func TestTTLCache_DisabledWhenZero(t *testing.T) {
	c := NewTTLCache[int](0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestSnapshot_Helpers(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol(" btc/usdt "))
	assert.False(t, Snapshot{}.Usable())
	snap := liveSnapshot("X", 3)
	assert.Equal(t, []string{"1h"}, snap.Intervals())
	assert.Len(t, snap.CandlesFor("1H"), 1)
	assert.Nil(t, snap.CandlesFor("4h"))
}
