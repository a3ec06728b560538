package agent

import (
	"context"
	"errors"
	"testing"

	"tradeagent/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAnalyzer struct{ mock.Mock }

func (m *MockAnalyzer) Run(ctx context.Context, subject string) (*pipeline.RunReport, error) {
	args := m.Called(ctx, subject)
	rep, _ := args.Get(0).(*pipeline.RunReport)
	return rep, args.Error(1)
}

type MockSaver struct{ mock.Mock }

func (m *MockSaver) Save(ctx context.Context, report *pipeline.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

func TestAnalyzePersistsReport(t *testing.T) {
	ctx := context.Background()
	rep := &pipeline.RunReport{RunID: "r1", Subject: "BTCUSDT", Success: true}
	analyzer := new(MockAnalyzer)
	analyzer.On("Run", ctx, "BTCUSDT").Return(rep, nil)
	saver := new(MockSaver)
	saver.On("Save", ctx, rep).Return(nil)

	svc := NewService(analyzer, pipeline.NewBatch(analyzer, 0), saver)
	got, err := svc.Analyze(ctx, " btc/usdt ")
	require.NoError(t, err)
	assert.Same(t, rep, got)
	analyzer.AssertExpectations(t)
	saver.AssertExpectations(t)
}

func TestAnalyzeAbortSkipsPersistence(t *testing.T) {
	ctx := context.Background()
	analyzer := new(MockAnalyzer)
	analyzer.On("Run", ctx, "ETHUSDT").Return(nil, pipeline.ErrDataUnavailable)
	saver := new(MockSaver)

	svc := NewService(analyzer, pipeline.NewBatch(analyzer, 0), saver)
	_, err := svc.Analyze(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, pipeline.ErrDataUnavailable)
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAnalyzeSaveFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	rep := &pipeline.RunReport{RunID: "r1", Subject: "BTCUSDT", Success: true}
	analyzer := new(MockAnalyzer)
	analyzer.On("Run", ctx, "BTCUSDT").Return(rep, nil)
	saver := new(MockSaver)
	saver.On("Save", ctx, rep).Return(errors.New("disk full"))

	svc := NewService(analyzer, nil, saver)
	got, err := svc.Analyze(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, got.Success)
}

func TestAnalyzeManyPersistsFailures(t *testing.T) {
	ctx := context.Background()
	ok := &pipeline.RunReport{RunID: "r1", Subject: "BTCUSDT", Success: true}
	analyzer := new(MockAnalyzer)
	analyzer.On("Run", mock.Anything, "BTCUSDT").Return(ok, nil)
	analyzer.On("Run", mock.Anything, "ETHUSDT").Return(nil, pipeline.ErrDataUnavailable)
	saver := new(MockSaver)
	saver.On("Save", ctx, mock.AnythingOfType("*pipeline.RunReport")).Return(nil)

	svc := NewService(analyzer, pipeline.NewBatch(analyzer, 2), saver)
	reports, err := svc.AnalyzeMany(ctx, []string{"btcusdt", "eth-usdt"})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports["BTCUSDT"].Success)
	assert.False(t, reports["ETHUSDT"].Success)
	saver.AssertNumberOfCalls(t, "Save", 2)
}

func TestAnalyzeManyEmpty(t *testing.T) {
	analyzer := new(MockAnalyzer)
	svc := NewService(analyzer, pipeline.NewBatch(analyzer, 0), nil)
	_, err := svc.AnalyzeMany(context.Background(), nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
}
