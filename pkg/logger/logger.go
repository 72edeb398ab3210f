// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 配置默认日志器 (JSON/Text)
//   - InitWithFile() 同时输出到 stderr 和日志文件
//   - FromContext() 上下文感知日志
//   - 包级便捷方法 (Info/Error/Warn/Debug)
//   - AttachDBSink() 可选挂载 PostgreSQL 日志落盘 (db_sink.go)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/multi-agent/agent-console/pkg/errors"
)

var (
	// defaultLogger 使用 atomic.Pointer 保证并发安全。
	defaultLogger atomic.Pointer[slog.Logger]

	logFile   *os.File   // 全局日志文件, Shutdown 时关闭
	logFileMu sync.Mutex // 保护 logFile 并发关闭
)

func init() { defaultLogger.Store(newLogger(false)) }

// getLogger 原子读取当前默认日志器。
func getLogger() *slog.Logger { return defaultLogger.Load() }

// storeLogger 原子存储默认日志器并同步 slog.SetDefault。
func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// replaceTimeAttr 将 slog 输出的时间格式化为易读字符串。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
		}
	}
	return a
}

func newLogger(development bool) *slog.Logger {
	return newLeveledLogger(development, slog.LevelInfo)
}

func newLeveledLogger(development bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   development,
		ReplaceAttr: replaceTimeAttr,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// parseLevel 解析级别字符串, 未知值回退 INFO。
func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init 初始化日志配置。level: DEBUG/INFO/WARN/ERROR (大小写不敏感)。
func Init(level string) {
	storeLogger(newLeveledLogger(false, parseLevel(level)))
}

// InitWithFile 初始化日志, 同时输出到 stderr 和日志文件。
//
// 日志文件: {logDir}/agent-console-{date}.log (JSON 格式)。
// 调用者应在退出前调用 ShutdownFileHandler() 关闭文件。
func InitWithFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "create log dir")
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logDir, fmt.Sprintf("agent-console-%s.log", date))

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "open log file")
	}
	logFileMu.Lock()
	logFile = f
	logFileMu.Unlock()

	multi := io.MultiWriter(os.Stderr, f)
	opts := &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: replaceTimeAttr}
	handler := slog.NewJSONHandler(multi, opts)
	storeLogger(slog.New(handler))

	slog.Info("log file opened", "path", logPath)
	return nil
}

// ShutdownFileHandler 关闭日志文件 (并发安全)。
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Fatal 记录后退出进程。仅限启动阶段的不可恢复错误。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	os.Exit(1)
}

// Infof/Errorf/Warnf/Debugf 记录格式化日志。
func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { getLogger().Debug(fmt.Sprintf(format, args...)) }

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// 预留字段常量 — MUST 使用常量键名，勿硬编码。
const (
	FieldThreadID   = "thread_id"
	FieldParentID   = "parent_id"
	FieldComponent  = "component"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldSeq        = "seq"
	FieldLastSeq    = "last_seq"
	FieldAttempt    = "attempt"
	FieldEventType  = "event_type"
	FieldToolName   = "tool_name"
	FieldCallID     = "call_id"
	FieldTitle      = "title"
	FieldCount      = "count"
	FieldVersion    = "version"
	FieldAddr       = "addr"
	FieldURL        = "url"
	FieldLatencyMS  = "latency_ms"
	FieldDurationMS = "duration_ms"
)
