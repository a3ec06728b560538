package provider

import "context"

// ChatPayload 是一次决策请求的内容；Subject 只用于日志标注。
type ChatPayload struct {
	Subject    string
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
}

// ModelProvider 是决策步骤依赖的 LLM 抽象。
// Call 负责记录请求与原始输出，调用方不必再写 LLM 日志。
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
