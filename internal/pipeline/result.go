package pipeline

import (
	"encoding/json"
	"reflect"
	"time"
)

// Kind 是步骤结果的类别，每个流水线位置一种。
type Kind string

const (
	KindTechnical Kind = "technical"
	KindRisk      Kind = "risk"
	KindDecision  Kind = "decision"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ResultMeta 是所有步骤结果的公共字段。
type ResultMeta struct {
	Step       string        `json:"step"`
	Kind       Kind          `json:"kind"`
	Subject    string        `json:"subject"`
	Status     Status        `json:"status"`
	Summary    string        `json:"summary"`
	Confidence float64       `json:"confidence"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Result 由具体步骤实现；Meta 之外的字段按步骤类别各不相同。
type Result interface {
	Meta() ResultMeta
}

// NewMeta 以完成状态初始化公共字段。
func NewMeta(step string, kind Kind, subject string) ResultMeta {
	return ResultMeta{Step: step, Kind: kind, Subject: subject, Status: StatusCompleted}
}

// isNilResult 识别接口中包裹的 nil 指针。
func isNilResult(r Result) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// resultEnvelope 让多态结果序列化后仍可辨认类别。
type resultEnvelope struct {
	Kind    Kind   `json:"kind"`
	Step    string `json:"step"`
	Payload Result `json:"payload"`
}

func envelopeResults(results []Result) []resultEnvelope {
	out := make([]resultEnvelope, 0, len(results))
	for _, r := range results {
		m := r.Meta()
		out = append(out, resultEnvelope{Kind: m.Kind, Step: m.Step, Payload: r})
	}
	return out
}

// MarshalResults 以 {kind, step, payload} 的形式编码结果列表。
func MarshalResults(results []Result) ([]byte, error) {
	return json.Marshal(envelopeResults(results))
}
