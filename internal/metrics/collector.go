package metrics

import (
	"sort"
	"sync"
	"time"
)

// StepStats 是单个步骤的累计统计，比率与均值在读取时计算。
type StepStats struct {
	Step        string        `json:"step"`
	Executions  int64         `json:"executions"`
	Failures    int64         `json:"failures"`
	TotalTime   time.Duration `json:"total_time_ns"`
	AverageTime time.Duration `json:"average_time_ns"`
	FailureRate float64       `json:"failure_rate"`
}

// Snapshot 是 Collector 某一时刻的只读视图。
type Snapshot struct {
	StartedAt             time.Time        `json:"started_at"`
	Uptime                time.Duration    `json:"uptime_ns"`
	RunsStarted           int64            `json:"runs_started"`
	SuccessfulRuns        int64            `json:"successful_runs"`
	FailedRuns            int64            `json:"failed_runs"`
	DegradedRuns          int64            `json:"degraded_runs"`
	TotalAnalysisRequests int64            `json:"total_analysis_requests"`
	SuccessRate           float64          `json:"success_rate"`
	TotalRunTime          time.Duration    `json:"total_run_time_ns"`
	AverageRunTime        time.Duration    `json:"average_run_time_ns"`
	Steps                 []StepStats      `json:"steps"`
	FailureReasons        map[string]int64 `json:"failure_reasons"`
}

type stepCounter struct {
	executions int64
	failures   int64
	total      time.Duration
}

func (c stepCounter) stats(step string) StepStats {
	out := StepStats{Step: step, Executions: c.executions, Failures: c.failures, TotalTime: c.total}
	if c.executions > 0 {
		out.AverageTime = c.total / time.Duration(c.executions)
		out.FailureRate = float64(c.failures) / float64(c.executions) * 100
	}
	return out
}

// Collector 记录进程级的运行与步骤统计，所有方法可并发调用。
// 计数器只由一把锁保护，Reset 与任意一次累加之间不存在中间状态。
type Collector struct {
	mu    sync.Mutex
	clock func() time.Time

	startedAt    time.Time
	runsStarted  int64
	succeeded    int64
	failed       int64
	degraded     int64
	totalRunTime time.Duration
	steps        map[string]*stepCounter
	reasons      map[string]int64
}

func NewCollector() *Collector {
	c := &Collector{clock: time.Now}
	c.resetLocked()
	return c
}

// SetClock 替换时间源，测试使用。
func (c *Collector) SetClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	c.startedAt = clock()
}

func (c *Collector) resetLocked() {
	c.startedAt = c.clock()
	c.runsStarted = 0
	c.succeeded = 0
	c.failed = 0
	c.degraded = 0
	c.totalRunTime = 0
	c.steps = make(map[string]*stepCounter)
	c.reasons = make(map[string]int64)
}

func (c *Collector) RecordRunStart(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsStarted++
}

func (c *Collector) RecordRunSuccess(_ string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succeeded++
	if elapsed > 0 {
		c.totalRunTime += elapsed
	}
}

// RecordRunDegraded 标记一次已完成但带有步骤错误的运行；该运行仍计入 SuccessfulRuns。
func (c *Collector) RecordRunDegraded(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded++
}

func (c *Collector) RecordRunFailure(_ string, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	if reason == "" {
		reason = "UNKNOWN"
	}
	c.reasons[reason]++
}

func (c *Collector) RecordStepExecution(step string, elapsed time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.steps[step]
	if !ok {
		sc = &stepCounter{}
		c.steps[step] = sc
	}
	sc.executions++
	if !success {
		sc.failures++
	}
	if elapsed > 0 {
		sc.total += elapsed
	}
}

func (c *Collector) RunsStarted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runsStarted
}

func (c *Collector) SuccessfulRuns() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded
}

func (c *Collector) FailedRuns() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// DegradedRuns 是 SuccessfulRuns 中报告 Success=false 的部分。
func (c *Collector) DegradedRuns() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// TotalAnalysisRequests 为已结束的运行数（成功 + 失败）。
func (c *Collector) TotalAnalysisRequests() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded + c.failed
}

// SuccessRate 返回完成（未中止）运行的百分比，没有运行时为 0；降级运行见 DegradedRuns。
func (c *Collector) SuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return successRate(c.succeeded, c.failed)
}

// AverageRunTime 是成功运行的平均耗时。
func (c *Collector) AverageRunTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return averageRunTime(c.totalRunTime, c.succeeded)
}

func (c *Collector) StepStats(step string) (StepStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.steps[step]
	if !ok {
		return StepStats{Step: step}, false
	}
	return sc.stats(step), true
}

// AllStepStats 按步骤名排序返回。
func (c *Collector) AllStepStats() []StepStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepStatsLocked()
}

func (c *Collector) FailureReasons() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.reasons))
	for k, v := range c.reasons {
		out[k] = v
	}
	return out
}

// Uptime 从启动或最近一次 Reset 起算。
func (c *Collector) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock().Sub(c.startedAt)
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	reasons := make(map[string]int64, len(c.reasons))
	for k, v := range c.reasons {
		reasons[k] = v
	}
	return Snapshot{
		StartedAt:             c.startedAt,
		Uptime:                c.clock().Sub(c.startedAt),
		RunsStarted:           c.runsStarted,
		SuccessfulRuns:        c.succeeded,
		FailedRuns:            c.failed,
		DegradedRuns:          c.degraded,
		TotalAnalysisRequests: c.succeeded + c.failed,
		SuccessRate:           successRate(c.succeeded, c.failed),
		TotalRunTime:          c.totalRunTime,
		AverageRunTime:        averageRunTime(c.totalRunTime, c.succeeded),
		Steps:                 c.stepStatsLocked(),
		FailureReasons:        reasons,
	}
}

// Reset 清零全部计数并重新计时。
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) stepStatsLocked() []StepStats {
	out := make([]StepStats, 0, len(c.steps))
	for name, sc := range c.steps {
		out = append(out, sc.stats(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

func successRate(succeeded, failed int64) float64 {
	total := succeeded + failed
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total) * 100
}

func averageRunTime(total time.Duration, runs int64) time.Duration {
	if runs == 0 {
		return 0
	}
	return total / time.Duration(runs)
}
