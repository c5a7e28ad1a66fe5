package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	useJSON    bool
	output     io.Writer = os.Stdout
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout, false)
}

func newLogger(w io.Writer, jsonFormat bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput 替换日志输出目标（例如 stdout + 文件）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	output = w
	baseLogger = newLogger(w, useJSON)
	loggerMu.Unlock()
}

// SetFormat 切换 text/json 两种输出格式。
func SetFormat(format string) {
	loggerMu.Lock()
	useJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	baseLogger = newLogger(output, useJSON)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel 将配置中的级别字符串转换为 slog.Level，未知值按 info 处理。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
		baseLogger = newLogger(os.Stdout, useJSON)
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

// Tagged 为某个组件输出带 "[tag]" 前缀的日志。
type Tagged struct {
	prefix string
}

func Named(tag string) Tagged {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Tagged{}
	}
	return Tagged{prefix: "[" + tag + "] "}
}

func (t Tagged) Debugf(format string, v ...any) { Debugf(t.prefix+format, v...) }
func (t Tagged) Infof(format string, v ...any)  { Infof(t.prefix+format, v...) }
func (t Tagged) Warnf(format string, v ...any)  { Warnf(t.prefix+format, v...) }
func (t Tagged) Errorf(format string, v ...any) { Errorf(t.prefix+format, v...) }

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
