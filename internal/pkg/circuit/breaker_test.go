package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker("test", Config{})
	cb.SetClock(clock.Now)
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < DefaultThreshold-1; i++ {
		cb.RecordFailure()
		assert.True(t, cb.Allow(), "failure %d should not open the breaker", i+1)
	}
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	for i := 0; i < DefaultThreshold-1; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	for i := 0; i < DefaultThreshold-1; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow())
	assert.Equal(t, DefaultThreshold-1, cb.Snapshot().Failures)
}

func TestCircuitBreaker_RecoveryWindowThenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < DefaultThreshold; i++ {
		cb.RecordFailure()
	}
	require.False(t, cb.Allow())

	clock.Advance(DefaultRecoveryWindow)
	assert.False(t, cb.Allow(), "window must be strictly exceeded")

	clock.Advance(time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Snapshot().Failures)
	for i := 0; i < 10; i++ {
		assert.True(t, cb.Allow())
	}
}

func TestCircuitBreaker_ProbeBudgetExhaustedReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < DefaultThreshold; i++ {
		cb.RecordFailure()
	}
	clock.Advance(DefaultRecoveryWindow + time.Second)
	require.True(t, cb.Allow(), "probe 1")
	cb.RecordFailure()

	for i := 1; i < DefaultProbeBudget; i++ {
		assert.True(t, cb.Allow(), "probe %d", i+1)
		cb.RecordFailure()
	}
	assert.Equal(t, DefaultProbeBudget, cb.Snapshot().Probes)
	assert.Equal(t, StateHalfOpen, cb.State(), "failures while probing do not reopen by themselves")
	assert.False(t, cb.Allow())
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, clock.Now(), cb.Snapshot().LastFailure)

	clock.Advance(DefaultRecoveryWindow / 2)
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ProbingEpisodeAdmitsBudgetCalls(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < DefaultThreshold; i++ {
		cb.RecordFailure()
	}
	clock.Advance(DefaultRecoveryWindow + time.Second)

	allowed := 0
	for i := 0; i < DefaultProbeBudget+3; i++ {
		if cb.Allow() {
			allowed++
		}
	}
	assert.Equal(t, DefaultProbeBudget, allowed)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StateChangeHandler(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	var transitions []string
	cb.SetStateChangeHandler(func(name string, from, to State) {
		assert.Equal(t, "test", name)
		transitions = append(transitions, from.String()+"->"+to.String())
		// 回调中读取状态不能死锁
		_ = cb.State()
	})
	for i := 0; i < DefaultThreshold; i++ {
		cb.RecordFailure()
	}
	clock.Advance(DefaultRecoveryWindow + time.Second)
	cb.Allow()
	cb.RecordSuccess()

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF-OPEN", "HALF-OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_CustomConfigAndReset(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("custom", Config{Threshold: 2, RecoveryWindow: 5 * time.Second, ProbeBudget: 1})
	cb.SetClock(clock.Now)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	clock.Advance(6 * time.Second)
	assert.True(t, cb.Allow(), "the transition call is the only probe")
	assert.False(t, cb.Allow())

	cb.Reset()
	stats := cb.Snapshot()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.Failures)
	assert.True(t, stats.LastFailure.IsZero())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", Config{Threshold: 50})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Allow()
			cb.RecordFailure()
		}()
	}
	wg.Wait()
	stats := cb.Snapshot()
	assert.Equal(t, 100, stats.Failures)
	assert.Equal(t, StateOpen, stats.State)
}
