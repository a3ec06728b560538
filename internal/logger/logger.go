package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 切换日志输出目标。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// ParseLevel 将配置中的级别字符串转换为 slog.Level，未知值返回 false。
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// SetLevel 动态调整全局日志级别（配置热更新时也会调用）。
func SetLevel(level string) {
	lv, _ := ParseLevel(level)
	levelVar.Set(lv)
}

// Level 返回当前级别。
func Level() slog.Level {
	return levelVar.Level()
}

// Logger 暴露底层 slog.Logger，供需要结构化字段的调用方使用。
func Logger() *slog.Logger {
	return activeLogger()
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Component 返回带固定前缀的日志器，例如 "[pipeline]"。
func Component(name string) Scoped {
	name = strings.TrimSpace(name)
	if name == "" {
		return Scoped{}
	}
	return Scoped{prefix: "[" + name + "] "}
}

// Scoped 在每条消息前追加组件前缀。
type Scoped struct {
	prefix string
}

func (s Scoped) Debugf(format string, v ...any) { Debugf(s.prefix+format, v...) }
func (s Scoped) Infof(format string, v ...any)  { Infof(s.prefix+format, v...) }
func (s Scoped) Warnf(format string, v ...any)  { Warnf(s.prefix+format, v...) }
func (s Scoped) Errorf(format string, v ...any) { Errorf(s.prefix+format, v...) }

// InfoBlock 按行输出多行文本。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
