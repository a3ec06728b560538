package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Step 描述流水线中的一个分析步骤（agent）。
// Run 返回 *StepError 表示步骤自身声明的业务失败（软失败，流水线继续）；
// 返回其它任何错误都视为意外故障，整次运行中止。
type Step interface {
	ID() string
	Priority() int
	CanRun(rc *RunContext) bool
	Run(ctx context.Context, rc *RunContext) (Result, error)
}

// StepError 是步骤声明的业务失败。
type StepError struct {
	Step   string
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Step
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reject 构造一个声明式失败。
func Reject(step, format string, args ...any) *StepError {
	return &StepError{Step: step, Reason: fmt.Sprintf(format, args...)}
}

// RejectWith 构造一个携带底层原因的声明式失败。
func RejectWith(step string, err error, format string, args ...any) *StepError {
	return &StepError{Step: step, Reason: fmt.Sprintf(format, args...), Err: err}
}

// IsStepError 判断 err 链中是否含有 *StepError。
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}
