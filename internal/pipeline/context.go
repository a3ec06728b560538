package pipeline

import (
	"fmt"
	"time"

	"tradeagent/internal/market"

	"github.com/google/uuid"
)

// RunContext 是单次运行的上下文，只在一次运行内使用，不做并发保护。
// 步骤结果只追加、不覆盖；输入快照在第一个步骤之前设置且只设置一次。
type RunContext struct {
	Subject   string
	RunID     string
	StartedAt time.Time

	input    market.Snapshot
	inputSet bool
	order    []string
	results  map[string]Result
	extras   map[string]any
}

// NewRunContext 初始化上下文。
func NewRunContext(subject string) *RunContext {
	return &RunContext{
		Subject:   subject,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		results:   make(map[string]Result),
		extras:    make(map[string]any),
	}
}

// SetInput 写入外部输入快照。
func (rc *RunContext) SetInput(snap market.Snapshot) error {
	if rc.inputSet {
		return fmt.Errorf("run %s: input snapshot already set", rc.RunID)
	}
	if len(rc.order) > 0 {
		return fmt.Errorf("run %s: input snapshot must be set before the first step", rc.RunID)
	}
	rc.input = snap.Clone()
	rc.inputSet = true
	return nil
}

// Input 返回输入快照的副本。
func (rc *RunContext) Input() market.Snapshot {
	return rc.input.Clone()
}

func (rc *RunContext) HasInput() bool { return rc.inputSet }

// Record 追加一个步骤结果；同一步骤重复写入返回错误。
func (rc *RunContext) Record(stepID string, res Result) error {
	if isNilResult(res) {
		return fmt.Errorf("run %s: nil result for step %s", rc.RunID, stepID)
	}
	if _, exists := rc.results[stepID]; exists {
		return fmt.Errorf("run %s: result for step %s already recorded", rc.RunID, stepID)
	}
	rc.results[stepID] = res
	rc.order = append(rc.order, stepID)
	return nil
}

// Result 读取之前步骤的结果。
func (rc *RunContext) Result(stepID string) (Result, bool) {
	res, ok := rc.results[stepID]
	return res, ok
}

// Results 按写入顺序返回全部结果。
func (rc *RunContext) Results() []Result {
	out := make([]Result, 0, len(rc.order))
	for _, id := range rc.order {
		out = append(out, rc.results[id])
	}
	return out
}

// StepIDs 按写入顺序返回已有结果的步骤。
func (rc *RunContext) StepIDs() []string {
	out := make([]string, len(rc.order))
	copy(out, rc.order)
	return out
}

// SetExtra 写入辅助数据。
func (rc *RunContext) SetExtra(key string, value any) {
	rc.extras[key] = value
}

func (rc *RunContext) Extra(key string) (any, bool) {
	v, ok := rc.extras[key]
	return v, ok
}

// ResultAs 以具体类型读取之前步骤的结果。
func ResultAs[T Result](rc *RunContext, stepID string) (T, bool) {
	var zero T
	if rc == nil {
		return zero, false
	}
	res, ok := rc.results[stepID]
	if !ok {
		return zero, false
	}
	typed, ok := res.(T)
	return typed, ok
}
