package pipeline

import (
	"encoding/json"
	"time"

	"tradeagent/internal/market"
)

// RunReport 汇总单个 subject 的运行结果。
// Success 一旦因 AddError 变为 false 就不会再恢复；Warnings 不影响 Success。
type RunReport struct {
	RunID        string                   `json:"run_id"`
	Subject      string                   `json:"subject"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	TotalElapsed time.Duration            `json:"total_elapsed_ns"`
	DataOrigin   market.Origin            `json:"data_origin,omitempty"`
	Results      []Result                 `json:"-"`
	Warnings     []string                 `json:"warnings"`
	Errors       []string                 `json:"errors"`
	Success      bool                     `json:"success"`
	StepTimings  map[string]time.Duration `json:"step_timings_ns"`
}

func newRunReport(rc *RunContext) *RunReport {
	return &RunReport{
		RunID:       rc.RunID,
		Subject:     rc.Subject,
		StartedAt:   rc.StartedAt,
		Success:     true,
		Warnings:    []string{},
		Errors:      []string{},
		StepTimings: make(map[string]time.Duration),
	}
}

// FailedReport 把无法完成的运行转成一份失败报告。
func FailedReport(subject string, err error) *RunReport {
	now := time.Now()
	r := &RunReport{
		Subject:     subject,
		StartedAt:   now,
		FinishedAt:  now,
		Success:     true,
		Warnings:    []string{},
		Errors:      []string{},
		StepTimings: make(map[string]time.Duration),
	}
	if err == nil {
		r.AddError("run did not complete")
	} else {
		r.AddError(err.Error())
	}
	return r
}

// AddError 记录错误并把报告标记为失败。
func (r *RunReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}

// AddWarning 记录不影响成功标记的提示。
func (r *RunReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *RunReport) addResult(stepID string, res Result, elapsed time.Duration) {
	r.Results = append(r.Results, res)
	r.StepTimings[stepID] = elapsed
}

func (r *RunReport) finish(end time.Time) {
	r.FinishedAt = end
	r.TotalElapsed = end.Sub(r.StartedAt)
}

// Result 按步骤 ID 查找结果。
func (r *RunReport) Result(stepID string) (Result, bool) {
	for _, res := range r.Results {
		if res.Meta().Step == stepID {
			return res, true
		}
	}
	return nil, false
}

// MarshalJSON 以带类别的信封形式输出步骤结果。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type plain RunReport
	return json.Marshal(struct {
		plain
		Results []resultEnvelope `json:"results"`
	}{plain: plain(r), Results: envelopeResults(r.Results)})
}
