package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradeagent/internal/logger"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	maxBackoff        = 8 * time.Second
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 的 /chat/completions 接口。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int // 429/5xx 的重试次数，0 表示默认 2 次，负数表示不重试
	Temperature  float64
	ExtraHeaders map[string]string

	HTTPClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = defaultBaseURL
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) retries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return defaultMaxRetries
	default:
		return c.MaxRetries
	}
}

func (c *OpenAIChatClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Complete 发送一次对话请求，返回首个 choice 的内容。
func (c *OpenAIChatClient) Complete(ctx context.Context, payload ChatPayload) (string, error) {
	body, err := c.requestBody(payload)
	if err != nil {
		return "", err
	}
	return c.send(ctx, body)
}

func (c *OpenAIChatClient) requestBody(payload ChatPayload) ([]byte, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	reqBody := chatRequest{Model: c.Model, Messages: messages, Temperature: c.Temperature, MaxTokens: payload.MaxTokens}
	if payload.ExpectJSON {
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return json.Marshal(reqBody)
}

// send 负责重试：429/5xx 按 Retry-After 或指数退避重试，其余状态直接返回错误。
func (c *OpenAIChatClient) send(ctx context.Context, body []byte) (string, error) {
	url := c.endpoint()
	logger.Debugf("[llm] POST %s headers=%v", url, c.maskedHeaders())
	httpc := c.httpClient()
	maxRetries := c.retries()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		for k, v := range c.ExtraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			return "", err
		}
		if resp.StatusCode/100 == 2 {
			var r chatResponse
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				return "", fmt.Errorf("decode chat response: %w", derr)
			}
			if len(r.Choices) == 0 {
				return "", fmt.Errorf("empty choices")
			}
			return r.Choices[0].Message.Content, nil
		}

		var eresp chatError
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if !retryable(resp.StatusCode) || attempt == maxRetries {
			break
		}
		if err := c.wait(ctx, retryDelay(resp.Header.Get("Retry-After"), attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (c *OpenAIChatClient) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay 优先使用 Retry-After，否则 0.8s 起指数退避，上限 8s。
func retryDelay(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	wait := 800 * time.Millisecond << attempt
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = "Bearer ****" + tail(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = "****" + tail(v)
		}
		out[k] = v
	}
	return out
}

func tail(s string) string {
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return ""
}

// OpenAIModelProvider 实现 ModelProvider。
type OpenAIModelProvider struct {
	id      string
	enabled bool
	client  *OpenAIChatClient
}

func NewOpenAIModelProvider(id string, enabled bool, client *OpenAIChatClient) *OpenAIModelProvider {
	return &OpenAIModelProvider{id: id, enabled: enabled, client: client}
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Enabled() bool { return p.enabled && p.client != nil }

func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if !p.Enabled() {
		return "", fmt.Errorf("provider %s disabled", p.id)
	}
	body, err := p.client.requestBody(payload)
	if err != nil {
		return "", err
	}
	logger.LogLLMRequest(p.id, payload.Subject, payload.System, payload.User, string(body))
	raw, err := p.client.send(ctx, body)
	if err != nil {
		return "", err
	}
	logger.LogLLMResponse(p.id, payload.Subject, raw)
	return raw, nil
}
