package agents

import (
	"context"
	"errors"
	"math"
	"testing"

	"tradeagent/internal/gateway/provider"
	"tradeagent/internal/market"
	"tradeagent/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func zigzag(n int, base, drift float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		c := base + drift*float64(i) + 2*math.Sin(float64(i)/3)
		out[i] = market.Candle{
			OpenTime: int64(i) * 3600000,
			Open:     c - 0.5,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
		}
	}
	return out
}

func newRunContext(t *testing.T, snap market.Snapshot) *pipeline.RunContext {
	t.Helper()
	rc := pipeline.NewRunContext("BTCUSDT")
	require.NoError(t, rc.SetInput(snap))
	return rc
}

func TestTechnical_OrderFlowWhenTakerVolumePresent(t *testing.T) {
	tech := NewTechnical(TechnicalConfig{})
	candles := zigzag(120, 100, 0.5)
	plain := newRunContext(t, market.Snapshot{Candles: map[string][]market.Candle{"1h": candles}})
	out, err := tech.Run(context.Background(), plain)
	require.NoError(t, err)
	assert.Nil(t, out.(*TechnicalResult).OrderFlow)

	for i := range candles {
		candles[i].Volume = 10
		candles[i].TakerBuy = 6
	}
	withFlow := newRunContext(t, market.Snapshot{Candles: map[string][]market.Candle{"1h": candles}})
	out, err = tech.Run(context.Background(), withFlow)
	require.NoError(t, err)
	res := out.(*TechnicalResult)
	require.NotNil(t, res.OrderFlow)
	assert.InDelta(t, 240, res.OrderFlow.Value, 1e-9)
	assert.Contains(t, res.Meta().Summary, "CVD")
}

func TestTechnical_CanRunNeedsEnoughCandles(t *testing.T) {
	tech := NewTechnical(TechnicalConfig{})
	assert.Equal(t, 51, tech.Config().MinCandles())

	short := newRunContext(t, market.Snapshot{Candles: map[string][]market.Candle{"1h": zigzag(20, 100, 0.1)}})
	assert.False(t, tech.CanRun(short))

	enough := newRunContext(t, market.Snapshot{Candles: map[string][]market.Candle{"1h": zigzag(120, 100, 0.1)}})
	assert.True(t, tech.CanRun(enough))
}

func TestTechnical_Run(t *testing.T) {
	tech := NewTechnical(TechnicalConfig{Priority: 10})
	rc := newRunContext(t, market.Snapshot{Candles: map[string][]market.Candle{"1h": zigzag(150, 100, 0.5)}})

	out, err := tech.Run(context.Background(), rc)
	require.NoError(t, err)
	res, ok := out.(*TechnicalResult)
	require.True(t, ok)
	meta := res.Meta()
	assert.Equal(t, TechnicalID, meta.Step)
	assert.Equal(t, pipeline.KindTechnical, meta.Kind)
	assert.Equal(t, pipeline.StatusCompleted, meta.Status)
	assert.NotEmpty(t, meta.Summary)
	assert.GreaterOrEqual(t, res.RSI, 0.0)
	assert.LessOrEqual(t, res.RSI, 100.0)
	assert.Greater(t, res.EMAFast, res.EMASlow)
	assert.InDelta(t, 0.4+0.2*math.Abs(float64(res.Score)), meta.Confidence, 1e-9)
	switch {
	case res.Score >= 2:
		assert.Equal(t, SignalBullish, res.Signal)
	case res.Score <= -2:
		assert.Equal(t, SignalBearish, res.Signal)
	default:
		assert.Equal(t, SignalNeutral, res.Signal)
	}
}

func TestTechnical_Score(t *testing.T) {
	tech := NewTechnical(TechnicalConfig{})
	cases := []struct {
		rsi, hist, fast, slow float64
		status                string
		score                 int
	}{
		{25, 1, 2, 1, "oversold", 3},
		{80, -1, 1, 2, "overbought", -3},
		{50, 1, 1, 2, "neutral", 0},
		{50, 0, 2, 1, "neutral", 1},
	}
	for _, tc := range cases {
		status, score := tech.score(tc.rsi, tc.hist, tc.fast, tc.slow)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.score, score)
	}
}

func TestRisk_DefaultVolatilitySizing(t *testing.T) {
	risk := NewRisk(RiskConfig{})
	rc := newRunContext(t, market.Snapshot{LastPrice: 100})
	require.True(t, risk.CanRun(rc))

	out, err := risk.Run(context.Background(), rc)
	require.NoError(t, err)
	res := out.(*RiskResult)
	assert.Equal(t, "default", res.ATRSource)
	assert.Equal(t, 2.0, res.ATR)
	assert.Equal(t, RiskMedium, res.Level)
	assert.Equal(t, "long", res.Direction)
	assert.Equal(t, 97.0, res.StopLoss)
	assert.Equal(t, 106.0, res.TakeProfit)
	assert.Equal(t, 100.0, res.RiskAmountUSD)
	assert.True(t, res.Capped)
	assert.Equal(t, 2000.0, res.PositionSizeUSD)
	assert.Equal(t, 20.0, res.Quantity)
	assert.Equal(t, 0.75, res.Meta().Confidence)
}

func TestRisk_ShortFollowsBearishSignal(t *testing.T) {
	risk := NewRisk(RiskConfig{MaxPositionPct: 100})
	rc := newRunContext(t, market.Snapshot{LastPrice: 100})
	require.NoError(t, rc.Record(TechnicalID, &TechnicalResult{
		Header: pipeline.NewMeta(TechnicalID, pipeline.KindTechnical, "BTCUSDT"),
		Signal: SignalBearish,
	}))

	out, err := risk.Run(context.Background(), rc)
	require.NoError(t, err)
	res := out.(*RiskResult)
	assert.Equal(t, "short", res.Direction)
	assert.Equal(t, 103.0, res.StopLoss)
	assert.Equal(t, 94.0, res.TakeProfit)
	assert.False(t, res.Capped)
	assert.InDelta(t, 3333.33, res.PositionSizeUSD, 0.01)
}

func TestRisk_FlatMarketIsRejected(t *testing.T) {
	flat := make([]market.Candle, 30)
	for i := range flat {
		flat[i] = market.Candle{Open: 100, High: 100, Low: 100, Close: 100}
	}
	risk := NewRisk(RiskConfig{})
	rc := newRunContext(t, market.Snapshot{LastPrice: 100, Candles: map[string][]market.Candle{"1h": flat}})

	_, err := risk.Run(context.Background(), rc)
	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, RiskID, stepErr.Step)

	assert.False(t, risk.CanRun(newRunContext(t, market.Snapshot{})))
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, RiskLow, levelFor(0.5))
	assert.Equal(t, RiskMedium, levelFor(1))
	assert.Equal(t, RiskHigh, levelFor(3))
	assert.Equal(t, RiskExtreme, levelFor(6))
}

type MockModel struct {
	mock.Mock
}

func (m *MockModel) ID() string    { return "mock:model" }
func (m *MockModel) Enabled() bool { return true }

func (m *MockModel) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func decisionContext(t *testing.T, signal Signal, level RiskLevel) *pipeline.RunContext {
	t.Helper()
	rc := newRunContext(t, market.Snapshot{LastPrice: 100})
	tech := &TechnicalResult{Header: pipeline.NewMeta(TechnicalID, pipeline.KindTechnical, "BTCUSDT"), Signal: signal, Score: 2}
	tech.Header.Confidence = 0.8
	require.NoError(t, rc.Record(TechnicalID, tech))
	require.NoError(t, rc.Record(RiskID, &RiskResult{
		Header:          pipeline.NewMeta(RiskID, pipeline.KindRisk, "BTCUSDT"),
		Level:           level,
		StopLoss:        97,
		TakeProfit:      106,
		PositionSizeUSD: 2000,
	}))
	return rc
}

func TestDecision_RulesWithoutModel(t *testing.T) {
	dec, err := NewDecision(DecisionConfig{}, nil, nil)
	require.NoError(t, err)
	rc := decisionContext(t, SignalBullish, RiskLow)
	require.True(t, dec.CanRun(rc))

	out, err := dec.Run(context.Background(), rc)
	require.NoError(t, err)
	res := out.(*DecisionResult)
	assert.Equal(t, ActionBuy, res.Action)
	assert.Equal(t, SourceRules, res.Source)
	assert.InDelta(t, 0.72, res.Meta().Confidence, 1e-9)
	assert.Equal(t, 97.0, res.StopLoss)
	assert.Equal(t, 2000.0, res.PositionSizeUSD)
}

func TestDecision_HighRiskHolds(t *testing.T) {
	dec, err := NewDecision(DecisionConfig{}, nil, nil)
	require.NoError(t, err)
	out, err := dec.Run(context.Background(), decisionContext(t, SignalBearish, RiskHigh))
	require.NoError(t, err)
	res := out.(*DecisionResult)
	assert.Equal(t, ActionHold, res.Action)
	assert.Zero(t, res.StopLoss)
}

func TestDecision_ExtremeRiskRejects(t *testing.T) {
	dec, err := NewDecision(DecisionConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = dec.Run(context.Background(), decisionContext(t, SignalBullish, RiskExtreme))
	assert.True(t, pipeline.IsStepError(err))
	assert.Contains(t, err.Error(), "risk too high to trade")
}

func TestDecision_CanRunNeedsPriorResults(t *testing.T) {
	dec, err := NewDecision(DecisionConfig{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, dec.CanRun(newRunContext(t, market.Snapshot{LastPrice: 1})))
}

func TestDecision_UsesModelOutput(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.MatchedBy(func(p provider.ChatPayload) bool {
		return p.ExpectJSON && p.System != "" && p.User != ""
	})).Return("Sure:\n```json\n{\"action\":\"sell\",\"confidence\":0.66,\"rationale\":\"momentum fading\"}\n```", nil)
	recorder := new(MockRecorder)
	recorder.On("RecordDecision", mock.Anything, mock.MatchedBy(func(r DecisionRecord) bool {
		return r.Valid && r.Action == "sell" && r.Provider == "mock:model" && r.Symbol == "BTCUSDT"
	})).Return(nil)

	dec, err := NewDecision(DecisionConfig{}, model, recorder)
	require.NoError(t, err)
	out, err := dec.Run(context.Background(), decisionContext(t, SignalBullish, RiskLow))
	require.NoError(t, err)
	res := out.(*DecisionResult)
	assert.Equal(t, ActionSell, res.Action)
	assert.Equal(t, SourceLLM, res.Source)
	assert.Equal(t, "mock:model", res.Provider)
	assert.Equal(t, 0.66, res.Meta().Confidence)
	assert.Equal(t, "momentum fading", res.Rationale)
	model.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestDecision_InvalidModelOutputFallsBack(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return(`{"action":"moon","confidence":2,"rationale":""}`, nil)
	recorder := new(MockRecorder)
	recorder.On("RecordDecision", mock.Anything, mock.MatchedBy(func(r DecisionRecord) bool {
		return !r.Valid && r.Error != ""
	})).Return(errors.New("disk full"))

	dec, err := NewDecision(DecisionConfig{}, model, recorder)
	require.NoError(t, err)
	out, err := dec.Run(context.Background(), decisionContext(t, SignalBullish, RiskLow))
	require.NoError(t, err)
	res := out.(*DecisionResult)
	assert.Equal(t, SourceRules, res.Source)
	assert.Equal(t, ActionBuy, res.Action)
	recorder.AssertExpectations(t)
}

func TestDecision_ModelErrorFallsBack(t *testing.T) {
	model := new(MockModel)
	model.On("Call", mock.Anything, mock.Anything).Return("", errors.New("status=503"))

	dec, err := NewDecision(DecisionConfig{}, model, nil)
	require.NoError(t, err)
	out, err := dec.Run(context.Background(), decisionContext(t, SignalNeutral, RiskMedium))
	require.NoError(t, err)
	res := out.(*DecisionResult)
	assert.Equal(t, SourceRules, res.Source)
	assert.Equal(t, ActionHold, res.Action)
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                        `{"a":1}`,
		"```json\n{\"a\":2}\n```":        `{"a":2}`,
		"answer: {\"a\":3} as requested": `{"a":3}`,
	}
	for in, want := range cases {
		got, err := extractJSONObject(in)
		require.NoError(t, err, in)
		assert.JSONEq(t, want, got)
	}
	for _, bad := range []string{"", "no json here", "[1,2]"} {
		_, err := extractJSONObject(bad)
		assert.ErrorIs(t, err, errNoJSON, bad)
	}
}
