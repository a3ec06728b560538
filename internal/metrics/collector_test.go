package metrics

import (
	"sync"
	"testing"
	"time"

	"tradeagent/internal/market"
	"tradeagent/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCollector_SuccessRateMatchesCounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "successes")
		m := rapid.IntRange(0, 40).Draw(rt, "failures")
		c := NewCollector()
		for i := 0; i < n; i++ {
			c.RecordRunStart("S")
			c.RecordRunSuccess("S", time.Millisecond)
		}
		for i := 0; i < m; i++ {
			c.RecordRunStart("S")
			c.RecordRunFailure("S", "DATA_UNAVAILABLE")
		}
		if got := c.TotalAnalysisRequests(); got != int64(n+m) {
			rt.Fatalf("total = %d, want %d", got, n+m)
		}
		want := 0.0
		if n+m > 0 {
			want = float64(n) / float64(n+m) * 100
		}
		if got := c.SuccessRate(); got != want {
			rt.Fatalf("success rate = %v, want %v", got, want)
		}
		if got := c.RunsStarted(); got != int64(n+m) {
			rt.Fatalf("started = %d", got)
		}
	})
}

func TestCollector_StepStats(t *testing.T) {
	c := NewCollector()
	c.RecordStepExecution("technical", 10*time.Millisecond, true)
	c.RecordStepExecution("technical", 30*time.Millisecond, false)
	c.RecordStepExecution("risk", 5*time.Millisecond, true)

	st, ok := c.StepStats("technical")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Executions)
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, 20*time.Millisecond, st.AverageTime)
	assert.Equal(t, 50.0, st.FailureRate)

	_, ok = c.StepStats("decision")
	assert.False(t, ok)

	all := c.AllStepStats()
	require.Len(t, all, 2)
	assert.Equal(t, "risk", all[0].Step)
	assert.Equal(t, "technical", all[1].Step)
}

func TestCollector_AverageRunTimeAndReasons(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.AverageRunTime())
	assert.Zero(t, c.SuccessRate())
	c.RecordRunSuccess("A", 100*time.Millisecond)
	c.RecordRunSuccess("B", 300*time.Millisecond)
	c.RecordRunFailure("C", "NO_RESULTS")
	c.RecordRunFailure("D", "")
	assert.Equal(t, 200*time.Millisecond, c.AverageRunTime())
	assert.Equal(t, map[string]int64{"NO_RESULTS": 1, "UNKNOWN": 1}, c.FailureReasons())
	assert.Equal(t, int64(2), c.SuccessfulRuns())
	assert.Equal(t, int64(2), c.FailedRuns())
}

func TestCollector_DegradedRunsAreTrackedSeparately(t *testing.T) {
	c := NewCollector()
	c.RecordRunSuccess("A", time.Second)
	c.RecordRunSuccess("B", time.Second)
	c.RecordRunDegraded("B")
	c.RecordRunFailure("C", "NO_RESULTS")

	assert.Equal(t, int64(2), c.SuccessfulRuns())
	assert.Equal(t, int64(1), c.DegradedRuns())
	assert.InDelta(t, 200.0/3.0, c.SuccessRate(), 1e-9)
	assert.Equal(t, int64(1), c.Snapshot().DegradedRuns)

	c.Reset()
	assert.Zero(t, c.DegradedRuns())
}

func TestCollector_ResetRestartsUptime(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCollector()
	c.SetClock(func() time.Time { return now })
	c.RecordRunStart("A")
	c.RecordRunSuccess("A", time.Second)
	c.RecordStepExecution("technical", time.Second, true)

	now = now.Add(time.Hour)
	assert.Equal(t, time.Hour, c.Uptime())

	c.Reset()
	assert.Zero(t, c.Uptime())
	snap := c.Snapshot()
	assert.Zero(t, snap.RunsStarted)
	assert.Zero(t, snap.TotalAnalysisRequests)
	assert.Empty(t, snap.Steps)
	assert.Empty(t, snap.FailureReasons)
	assert.Equal(t, now, snap.StartedAt)

	now = now.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Uptime())
}

func TestCollector_ConcurrentUpdatesAcrossReset(t *testing.T) {
	c := NewCollector()
	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.RecordRunStart("X")
				c.RecordRunSuccess("X", time.Microsecond)
				c.RecordStepExecution("technical", time.Microsecond, true)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(workers*perWorker), c.SuccessfulRuns())
	st, _ := c.StepStats("technical")
	assert.Equal(t, int64(workers*perWorker), st.Executions)

	var resets sync.WaitGroup
	resets.Add(1)
	go func() {
		defer resets.Done()
		for i := 0; i < 50; i++ {
			c.Reset()
		}
	}()
	for i := 0; i < 1000; i++ {
		c.RecordRunSuccess("X", time.Microsecond)
	}
	resets.Wait()
	snap := c.Snapshot()
	assert.LessOrEqual(t, snap.SuccessfulRuns, int64(1000))
	assert.Equal(t, snap.SuccessfulRuns, snap.TotalAnalysisRequests)
}

func TestPrometheusCollector_Gather(t *testing.T) {
	c := NewCollector()
	c.RecordRunStart("A")
	c.RecordRunSuccess("A", time.Second)
	c.RecordRunDegraded("A")
	c.RecordRunStart("B")
	c.RecordRunFailure("B", "DATA_UNAVAILABLE")
	c.RecordStepExecution("risk", time.Second, true)

	gate := func() market.GateStats {
		return market.GateStats{
			Breaker:      circuit.Stats{Name: "market", State: circuit.StateOpen, Failures: 5},
			CachedSymbol: 2,
		}
	}
	reg, err := NewRegistry(NewPrometheusCollector(c, gate))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			byName[mf.GetName()] += v
		}
	}
	assert.Equal(t, 1.0, byName["tradeagent_runs_failures_total"])
	assert.Equal(t, 2.0, byName["tradeagent_runs_started_total"])
	assert.Equal(t, 2.0, byName["tradeagent_runs_finished_total"])
	assert.Equal(t, 50.0, byName["tradeagent_runs_success_rate_percent"])
	assert.Equal(t, 1.0, byName["tradeagent_runs_degraded_total"])
	assert.Equal(t, 1.0, byName["tradeagent_step_executions_total"])
	assert.Equal(t, 1.0, byName["tradeagent_gate_state"])
	assert.Equal(t, 5.0, byName["tradeagent_gate_failures"])
	assert.Equal(t, 2.0, byName["tradeagent_gate_cached_symbols"])
}
