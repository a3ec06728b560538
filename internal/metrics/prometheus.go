package metrics

import (
	"net/http"

	"tradeagent/internal/market"
	"tradeagent/internal/pkg/circuit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradeagent"

// GateStatsFunc 返回当前熔断器与应急缓存状态。
type GateStatsFunc func() market.GateStats

// PrometheusCollector 在抓取时读取 Collector 快照，不维护第二份计数。
type PrometheusCollector struct {
	source *Collector
	gate   GateStatsFunc

	runsStarted    *prometheus.Desc
	runsFinished   *prometheus.Desc
	runsDegraded   *prometheus.Desc
	failureReasons *prometheus.Desc
	successRate    *prometheus.Desc
	runSeconds     *prometheus.Desc
	uptime         *prometheus.Desc
	stepExecutions *prometheus.Desc
	stepFailures   *prometheus.Desc
	stepSeconds    *prometheus.Desc
	breakerState   *prometheus.Desc
	breakerFails   *prometheus.Desc
	cachedSymbols  *prometheus.Desc
}

func NewPrometheusCollector(source *Collector, gate GateStatsFunc) *PrometheusCollector {
	return &PrometheusCollector{
		source: source,
		gate:   gate,
		runsStarted: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "started_total"),
			"Pipeline runs started", nil, nil),
		runsFinished: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "finished_total"),
			"Pipeline runs finished by outcome", []string{"outcome"}, nil),
		runsDegraded: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "degraded_total"),
			"Finished runs whose report carries step errors", nil, nil),
		failureReasons: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "failures_total"),
			"Aborted runs by reason", []string{"reason"}, nil),
		successRate: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "success_rate_percent"),
			"Share of finished runs that succeeded", nil, nil),
		runSeconds: prometheus.NewDesc(prometheus.BuildFQName(namespace, "runs", "duration_seconds_total"),
			"Cumulative duration of successful runs", nil, nil),
		uptime: prometheus.NewDesc(prometheus.BuildFQName(namespace, "metrics", "uptime_seconds"),
			"Seconds since start or last reset", nil, nil),
		stepExecutions: prometheus.NewDesc(prometheus.BuildFQName(namespace, "step", "executions_total"),
			"Step executions", []string{"step"}, nil),
		stepFailures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "step", "failures_total"),
			"Step executions that were skipped or failed", []string{"step"}, nil),
		stepSeconds: prometheus.NewDesc(prometheus.BuildFQName(namespace, "step", "duration_seconds_total"),
			"Cumulative step execution time", []string{"step"}, nil),
		breakerState: prometheus.NewDesc(prometheus.BuildFQName(namespace, "gate", "state"),
			"Circuit breaker state (1 for the current state)", []string{"breaker", "state"}, nil),
		breakerFails: prometheus.NewDesc(prometheus.BuildFQName(namespace, "gate", "failures"),
			"Consecutive upstream failures", []string{"breaker"}, nil),
		cachedSymbols: prometheus.NewDesc(prometheus.BuildFQName(namespace, "gate", "cached_symbols"),
			"Symbols held in the emergency cache", nil, nil),
	}
}

func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		p.runsStarted, p.runsFinished, p.runsDegraded, p.failureReasons, p.successRate, p.runSeconds, p.uptime,
		p.stepExecutions, p.stepFailures, p.stepSeconds, p.breakerState, p.breakerFails, p.cachedSymbols,
	} {
		ch <- d
	}
}

func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	if p.source != nil {
		snap := p.source.Snapshot()
		ch <- prometheus.MustNewConstMetric(p.runsStarted, prometheus.CounterValue, float64(snap.RunsStarted))
		ch <- prometheus.MustNewConstMetric(p.runsFinished, prometheus.CounterValue, float64(snap.SuccessfulRuns), "success")
		ch <- prometheus.MustNewConstMetric(p.runsFinished, prometheus.CounterValue, float64(snap.FailedRuns), "failure")
		ch <- prometheus.MustNewConstMetric(p.runsDegraded, prometheus.CounterValue, float64(snap.DegradedRuns))
		for reason, n := range snap.FailureReasons {
			ch <- prometheus.MustNewConstMetric(p.failureReasons, prometheus.CounterValue, float64(n), reason)
		}
		ch <- prometheus.MustNewConstMetric(p.successRate, prometheus.GaugeValue, snap.SuccessRate)
		ch <- prometheus.MustNewConstMetric(p.runSeconds, prometheus.CounterValue, snap.TotalRunTime.Seconds())
		ch <- prometheus.MustNewConstMetric(p.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
		for _, st := range snap.Steps {
			ch <- prometheus.MustNewConstMetric(p.stepExecutions, prometheus.CounterValue, float64(st.Executions), st.Step)
			ch <- prometheus.MustNewConstMetric(p.stepFailures, prometheus.CounterValue, float64(st.Failures), st.Step)
			ch <- prometheus.MustNewConstMetric(p.stepSeconds, prometheus.CounterValue, st.TotalTime.Seconds(), st.Step)
		}
	}
	if p.gate != nil {
		gs := p.gate()
		for _, state := range []circuit.State{circuit.StateClosed, circuit.StateOpen, circuit.StateHalfOpen} {
			v := 0.0
			if gs.Breaker.State == state {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(p.breakerState, prometheus.GaugeValue, v, gs.Breaker.Name, state.String())
		}
		ch <- prometheus.MustNewConstMetric(p.breakerFails, prometheus.GaugeValue, float64(gs.Breaker.Failures), gs.Breaker.Name)
		ch <- prometheus.MustNewConstMetric(p.cachedSymbols, prometheus.GaugeValue, float64(gs.CachedSymbol))
	}
}

// NewRegistry 创建独立的 registry，只注册本进程关心的指标。
func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler 返回 /metrics 的 HTTP handler。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
