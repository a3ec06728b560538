package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradeagent/internal/logger"
	"tradeagent/internal/market"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tradeagent/pipeline"

// InputSource 提供运行所需的输入快照，通常是 market.Gate。
type InputSource interface {
	Acquire(ctx context.Context, symbol string) (market.Snapshot, error)
}

// Recorder 接收运行与步骤的统计事件，由 metrics.Collector 实现。
type Recorder interface {
	RecordRunStart(subject string)
	RecordRunSuccess(subject string, elapsed time.Duration)
	RecordRunFailure(subject, reason string)
	RecordStepExecution(step string, elapsed time.Duration, success bool)
}

// DegradedRecorder 是 Recorder 的可选扩展：返回的报告带有步骤错误时额外调用。
type DegradedRecorder interface {
	RecordRunDegraded(subject string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRunStart(string)                           {}
func (nopRecorder) RecordRunSuccess(string, time.Duration)          {}
func (nopRecorder) RecordRunFailure(string, string)                 {}
func (nopRecorder) RecordStepExecution(string, time.Duration, bool) {}

// Orchestrator 串行执行注册表中的步骤，单次运行内不并发。
type Orchestrator struct {
	registry *Registry
	input    InputSource
	recorder Recorder
	tracer   trace.Tracer
	log      logger.Scoped
	now      func() time.Time
}

func NewOrchestrator(registry *Registry, input InputSource, recorder Recorder) *Orchestrator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		registry: registry,
		input:    input,
		recorder: recorder,
		tracer:   otel.Tracer(tracerName),
		log:      logger.Component("pipeline"),
		now:      time.Now,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// Run 对一个 subject 执行完整流水线。
// 步骤的软失败只降级报告；返回 error 时一定是 *OrchestrationError，且不返回报告。
func (o *Orchestrator) Run(ctx context.Context, subject string) (*RunReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	subject = strings.TrimSpace(subject)
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("subject", subject)))
	defer span.End()

	o.recorder.RecordRunStart(subject)
	report, err := o.guardedRun(ctx, subject)
	if err != nil {
		reason, _ := ReasonOf(err)
		o.recorder.RecordRunFailure(subject, string(reason))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		o.log.Warnf("run %s aborted: %v", subject, err)
		return nil, err
	}
	o.recorder.RecordRunSuccess(subject, report.TotalElapsed)
	if d, ok := o.recorder.(DegradedRecorder); ok && !report.Success {
		d.RecordRunDegraded(subject)
	}
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Bool("success", report.Success),
		attribute.Int("results", len(report.Results)),
	)
	o.log.Infof("run %s finished in %s: results=%d warnings=%d errors=%d origin=%s",
		subject, report.TotalElapsed, len(report.Results), len(report.Warnings), len(report.Errors), report.DataOrigin)
	return report, nil
}

// guardedRun 保证 RecordRunStart 之后总有成功或失败记录：任何逃出的 panic 都算 STEP_UNEXPECTED。
func (o *Orchestrator) guardedRun(ctx context.Context, subject string) (report *RunReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = newOrchestrationError(ReasonStepUnexpected, subject, "", fmt.Errorf("run panicked: %v", r))
		}
	}()
	return o.run(ctx, subject)
}

func (o *Orchestrator) run(ctx context.Context, subject string) (*RunReport, error) {
	if subject == "" {
		return nil, newOrchestrationError(ReasonInvalidInput, subject, "", errors.New("subject is required"))
	}
	if o.registry == nil || o.input == nil {
		return nil, newOrchestrationError(ReasonInvalidInput, subject, "", errors.New("orchestrator is not configured"))
	}

	snap, err := o.input.Acquire(ctx, subject)
	if err != nil {
		return nil, newOrchestrationError(ReasonDataUnavailable, subject, "", err)
	}
	if !snap.Usable() {
		return nil, newOrchestrationError(ReasonDataUnavailable, subject, "", market.ErrNoData)
	}
	if snap.Origin != market.OriginLive {
		o.log.Warnf("%s using %s data (last price %.4f)", subject, snap.Origin, snap.LastPrice)
	}

	rc := NewRunContext(subject)
	rc.StartedAt = o.now()
	if err := rc.SetInput(snap); err != nil {
		return nil, newOrchestrationError(ReasonStepUnexpected, subject, "", err)
	}
	report := newRunReport(rc)
	report.DataOrigin = snap.Origin

	for _, st := range o.registry.Ordered() {
		if err := o.runStep(ctx, rc, report, st.ID()); err != nil {
			return nil, err
		}
	}

	if len(report.Results) == 0 {
		return nil, newOrchestrationError(ReasonNoResults, subject, "",
			fmt.Errorf("all %d steps skipped or failed", o.registry.Len()))
	}
	report.finish(o.now())
	return report, nil
}

func (o *Orchestrator) runStep(ctx context.Context, rc *RunContext, report *RunReport, id string) error {
	st, err := o.registry.Resolve(id)
	if err != nil {
		return newOrchestrationError(ReasonStepUnexpected, rc.Subject, id, err)
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step", id),
		attribute.Int("priority", st.Priority()),
	))
	defer span.End()
	start := o.now()

	ready, err := checkCanRun(st, rc)
	if err != nil {
		o.recorder.RecordStepExecution(id, o.now().Sub(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected")
		return newOrchestrationError(ReasonStepUnexpected, rc.Subject, id, err)
	}
	if !ready {
		elapsed := o.now().Sub(start)
		report.AddWarning(fmt.Sprintf("%s skipped: preconditions not met", id))
		o.recorder.RecordStepExecution(id, elapsed, false)
		span.SetAttributes(attribute.Bool("skipped", true))
		o.log.Debugf("%s skipped for %s", id, rc.Subject)
		return nil
	}

	res, err := invoke(ctx, st, rc)
	elapsed := o.now().Sub(start)

	var stepErr *StepError
	switch {
	case err != nil && errors.As(err, &stepErr):
		report.AddError(err.Error())
		o.recorder.RecordStepExecution(id, elapsed, false)
		span.SetStatus(codes.Error, "declared failure")
		o.log.Infof("%s declined %s: %v", id, rc.Subject, err)
		return nil
	case err != nil:
		o.recorder.RecordStepExecution(id, elapsed, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected")
		return newOrchestrationError(ReasonStepUnexpected, rc.Subject, id, err)
	case isNilResult(res):
		report.AddError(fmt.Sprintf("%s produced no result", id))
		o.recorder.RecordStepExecution(id, elapsed, false)
		span.SetStatus(codes.Error, "no result")
		return newOrchestrationError(ReasonStepProducedNothing, rc.Subject, id, nil)
	}

	if err := rc.Record(id, res); err != nil {
		o.recorder.RecordStepExecution(id, elapsed, false)
		return newOrchestrationError(ReasonStepUnexpected, rc.Subject, id, err)
	}
	report.addResult(id, res, elapsed)
	o.recorder.RecordStepExecution(id, elapsed, true)
	return nil
}

// checkCanRun 调用前置条件检查并把 panic 转成普通错误。
func checkCanRun(st Step, rc *RunContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("step %s precondition panicked: %v", st.ID(), r)
		}
	}()
	return st.CanRun(rc), nil
}

// invoke 执行步骤并把 panic 转成普通错误。
func invoke(ctx context.Context, st Step, rc *RunContext) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("step %s panicked: %v", st.ID(), r)
		}
	}()
	return st.Run(ctx, rc)
}
