package provider

import (
	"fmt"
	"strings"
	"time"

	"tradeagent/internal/logger"
)

type ModelCfg struct {
	ID, Provider, APIURL, APIKey, Model string
	Enabled                             bool
	Headers                             map[string]string
	Timeout                             time.Duration
	MaxRetries                          int
	Temperature                         float64
}

// BuildFromConfig 根据配置构造 provider；未启用时返回 nil。
func BuildFromConfig(m ModelCfg) ModelProvider {
	if !m.Enabled {
		return nil
	}
	id := strings.TrimSpace(m.ID)
	if id == "" {
		base := strings.TrimSpace(m.Provider)
		if base == "" {
			base = "openai"
		}
		if model := strings.TrimSpace(m.Model); model != "" {
			id = fmt.Sprintf("%s:%s", base, model)
		} else {
			id = base
		}
		logger.Warnf("llm.id 未配置，已生成 ID: %s", id)
	}
	client := &OpenAIChatClient{
		BaseURL:      m.APIURL,
		APIKey:       m.APIKey,
		Model:        m.Model,
		Timeout:      m.Timeout,
		MaxRetries:   m.MaxRetries,
		Temperature:  m.Temperature,
		ExtraHeaders: m.Headers,
	}
	return NewOpenAIModelProvider(id, true, client)
}
