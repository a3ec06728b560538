package gateway

import (
	"testing"

	"tradeagent/internal/config"
	"tradeagent/internal/gateway/binance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceFromConfig(t *testing.T) {
	src, err := NewSourceFromConfig(config.MarketConfig{Source: "binance", Intervals: []string{"1h"}, Limit: 100})
	require.NoError(t, err)
	_, ok := src.(*binance.Source)
	assert.True(t, ok)

	src, err = NewSourceFromConfig(config.MarketConfig{Source: "offline"})
	require.NoError(t, err)
	assert.Nil(t, src)

	_, err = NewSourceFromConfig(config.MarketConfig{Source: "kraken"})
	assert.Error(t, err)
}
