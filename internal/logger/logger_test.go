package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Level()
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		levelVar.Set(prev)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	got, ok := ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, got)
}

func TestSetLevelFilters(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	SetLevel("debug")
	Debugf("debug line")
	assert.Contains(t, buf.String(), "debug line")
}

func TestComponentPrefix(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("info")
	Component("pipeline").Infof("run %s done", "BTCUSDT")
	Component("  ").Errorf("bare")
	assert.Contains(t, buf.String(), "[pipeline] run BTCUSDT done")
	assert.Contains(t, buf.String(), "msg=bare")
}

func TestLLMWriter(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	t.Cleanup(func() {
		SetLLMWriter(nil)
		EnableLLMPayloadDump(false)
	})

	LogLLMRequest("openai:gpt", "BTCUSDT", "sys prompt", "user prompt", `{"k":1}`)
	out := buf.String()
	assert.Contains(t, out, "[LLM][request][openai:gpt][BTCUSDT]")
	assert.Contains(t, out, "--- SYSTEM ---\nsys prompt")
	assert.NotContains(t, out, "PAYLOAD")

	EnableLLMPayloadDump(true)
	LogLLMRequest("openai:gpt", "BTCUSDT", "s", "u", `{"k":1}`)
	LogLLMResponse("openai:gpt", "BTCUSDT", `{"action":"hold"}`)
	out = buf.String()
	assert.Contains(t, out, "--- PAYLOAD ---")
	assert.Contains(t, out, "--- RAW ---\n{\"action\":\"hold\"}")

	SetLLMWriter(nil)
	before := buf.Len()
	LogLLMResponse("x", "y", "z")
	assert.Equal(t, before, buf.Len())
}
