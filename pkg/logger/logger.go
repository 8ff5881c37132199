// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化全局日志器（仅供进程入口使用）
func Init(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(cfg.Level))
		logger = New(cfg)
	})
}

// New 按配置创建独立日志器，引擎组件通过注入使用
func New(cfg Config) zerolog.Logger {
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.FilePath != "" {
			f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				output = f
			} else {
				output = os.Stdout
			}
		} else {
			output = os.Stdout
		}
	default:
		output = os.Stdout
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
		}
	}

	return zerolog.New(output).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Nop 返回丢弃所有输出的日志器
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	callerIDKey  ctxKey = "caller_id"
)

// ContextWithRequestID 写入请求ID
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithCaller 写入调用方ID
func ContextWithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

// RequestID 读取请求ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := From(ctx, *Get())
	return &l
}

// From 在给定日志器上附加上下文字段
func From(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	l := base
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	if callerID, ok := ctx.Value(callerIDKey).(string); ok {
		l = l.With().Str("caller_id", callerID).Logger()
	}
	return l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// WithFields 添加多个字段
func WithFields(fields map[string]interface{}) *zerolog.Logger {
	ctx := Get().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	l := ctx.Logger()
	return &l
}

// CoverageLogger 覆盖引擎专用日志器
type CoverageLogger struct {
	base zerolog.Logger
}

// NewCoverageLogger 创建覆盖引擎日志器
func NewCoverageLogger(base zerolog.Logger) *CoverageLogger {
	return &CoverageLogger{base: base.With().Str("component", "coverage").Logger()}
}

// Logger 返回底层日志器
func (l *CoverageLogger) Logger() *zerolog.Logger {
	return &l.base
}

// BatchStart 记录批量分配开始
func (l *CoverageLogger) BatchStart(kind, patientID string, blocks int) {
	l.base.Info().
		Str("kind", kind).
		Str("patient_id", patientID).
		Int("blocks", blocks).
		Msg("开始批量分配")
}

// Conflict 记录分配冲突
func (l *CoverageLogger) Conflict(staffID, date string, conflicts int) {
	l.base.Warn().
		Str("staff_id", staffID).
		Str("date", date).
		Int("conflicts", conflicts).
		Msg("分配冲突")
}

// NoCandidate 记录无可用员工
func (l *CoverageLogger) NoCandidate(blockID, date string) {
	l.base.Warn().
		Str("time_block_id", blockID).
		Str("date", date).
		Msg("无可用员工")
}

// BatchComplete 记录批量分配完成
func (l *CoverageLogger) BatchComplete(kind, patientID string, successful, failed int, truncated bool, duration time.Duration) {
	l.base.Info().
		Str("kind", kind).
		Str("patient_id", patientID).
		Int("successful", successful).
		Int("failed", failed).
		Bool("truncated", truncated).
		Dur("duration", duration).
		Msg("批量分配完成")
}
