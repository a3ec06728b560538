package factory

import (
	"testing"

	"tradeagent/internal/config"
	"tradeagent/internal/pipeline/agents"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_BuildRegistry(t *testing.T) {
	f := &Factory{Interval: "4h", Risk: config.RiskConfig{EquityUSD: 5000, RiskPct: 2}}
	reg, err := f.BuildRegistry([]config.StepConfig{
		{Name: "decision", Priority: 30},
		{Name: "Technical", Priority: 10, Params: map[string]any{"rsi_period": "7", "interval": "15m"}},
		{Name: "risk", Priority: 20, Params: map[string]any{"risk_pct": 0.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"technical", "risk", "decision"}, reg.IDs())

	st, err := reg.Resolve("technical")
	require.NoError(t, err)
	tech := st.(*agents.Technical)
	assert.Equal(t, 7, tech.Config().RSIPeriod)
	assert.Equal(t, "15m", tech.Config().Interval)

	st, err = reg.Resolve("risk")
	require.NoError(t, err)
	risk := st.(*agents.Risk).Config()
	assert.Equal(t, "4h", risk.Interval)
	assert.Equal(t, 0.5, risk.RiskPct)
	assert.Equal(t, 5000.0, risk.EquityUSD)
}

func TestFactory_UnknownStep(t *testing.T) {
	f := &Factory{}
	_, err := f.Build(config.StepConfig{Name: "sentiment"})
	assert.Error(t, err)
}

func TestFactory_CustomIDs(t *testing.T) {
	f := &Factory{}
	reg, err := f.BuildRegistry([]config.StepConfig{
		{Name: "technical", ID: "tech_fast", Priority: 1},
		{Name: "technical", ID: "tech_slow", Priority: 2, Params: map[string]any{"interval": "1d"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tech_fast", "tech_slow"}, reg.IDs())
	assert.True(t, reg.Supports("tech_slow"))
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{"a": 3.0, "b": "12", "c": "x", "d": 1.5}
	assert.Equal(t, 3, intFromCfg(params, "a"))
	assert.Equal(t, 12, intFromCfg(params, "b"))
	assert.Equal(t, 0, intFromCfg(params, "c"))
	assert.Equal(t, 1.5, floatFromCfg(params, "d"))
	assert.Equal(t, 12.0, floatFromCfg(params, "b"))
	assert.Equal(t, "", stringFromCfg(nil, "a"))
}
