package visual

import (
	"bytes"
	"testing"

	"tradeagent/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chartSnapshot(n int) market.Snapshot {
	candles := make([]market.Candle, n)
	for i := range candles {
		base := 100 + float64(i%7)
		candles[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i+1)*3_600_000 - 1,
			Open:      base,
			Close:     base + 0.5,
			High:      base + 1,
			Low:       base - 1,
		}
	}
	return market.Snapshot{Symbol: "BTCUSDT", LastPrice: 101, Origin: market.OriginLive, Candles: map[string][]market.Candle{"1h": candles}}
}

func TestRenderKline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderKline(&buf, chartSnapshot(80), "1h", ChartOptions{EMAFast: 5, EMASlow: 20}))
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "BTCUSDT 1h")
	assert.Contains(t, html, "EMA5")
	assert.Contains(t, html, "EMA20")
}

func TestRenderKlineMissingInterval(t *testing.T) {
	var buf bytes.Buffer
	err := RenderKline(&buf, chartSnapshot(10), "4h", ChartOptions{})
	assert.ErrorIs(t, err, ErrNoCandles)
	assert.Zero(t, buf.Len())
}

func TestEMALineWarmup(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	line := emaLine(closes, 3)
	require.Len(t, line, 6)
	assert.Nil(t, line[0].Value)
	assert.Nil(t, line[1].Value)
	assert.NotNil(t, line[2].Value)

	short := emaLine([]float64{1, 2}, 5)
	assert.Len(t, short, 2)
	assert.Nil(t, short[1].Value)
}
