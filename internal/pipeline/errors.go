package pipeline

import (
	"errors"
	"fmt"
)

// Reason 标识导致整次运行中止的原因。
type Reason string

const (
	ReasonInvalidInput        Reason = "INVALID_INPUT"
	ReasonDataUnavailable     Reason = "DATA_UNAVAILABLE"
	ReasonStepProducedNothing Reason = "STEP_PRODUCED_NOTHING"
	ReasonStepUnexpected      Reason = "STEP_UNEXPECTED"
	ReasonNoResults           Reason = "NO_RESULTS"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrStepProducedNothing = errors.New("step produced nothing")
	ErrStepUnexpected      = errors.New("unexpected step failure")
	ErrNoResults           = errors.New("no results produced")
	ErrUnknownStep         = errors.New("unknown step")
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidInput:        ErrInvalidInput,
	ReasonDataUnavailable:     ErrDataUnavailable,
	ReasonStepProducedNothing: ErrStepProducedNothing,
	ReasonStepUnexpected:      ErrStepUnexpected,
	ReasonNoResults:           ErrNoResults,
}

// OrchestrationError 是编排器唯一对外抛出的错误类型。
type OrchestrationError struct {
	Reason  Reason
	Subject string
	Step    string
	Err     error
}

func (e *OrchestrationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("orchestration %s", e.Reason)
	if e.Subject != "" {
		msg += " subject=" + e.Subject
	}
	if e.Step != "" {
		msg += " step=" + e.Step
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrchestrationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is 让 errors.Is(err, ErrNoResults) 之类的判断按 Reason 命中。
func (e *OrchestrationError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := reasonSentinels[e.Reason]
	return ok && sentinel == target
}

// ReasonOf 提取错误链中的中止原因。
func ReasonOf(err error) (Reason, bool) {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Reason, true
	}
	return "", false
}

func newOrchestrationError(reason Reason, subject, step string, err error) *OrchestrationError {
	return &OrchestrationError{Reason: reason, Subject: subject, Step: step, Err: err}
}
