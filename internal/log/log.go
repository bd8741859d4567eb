// Package log 是 SDK 内部使用的分级日志，基于 zerolog。
//
// 默认只输出 Warn 及以上级别到 stderr，可通过 SANDBOX_LOG_LEVEL 环境变量
// 或 SetLevel 调整。
package log

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := newLogger(os.Stderr, levelFromEnvironment())
	logger.Store(&l)
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("sdk", "sandbox-go").Logger()
}

func levelFromEnvironment() zerolog.Level {
	level, err := ParseLevel(os.Getenv("SANDBOX_LOG_LEVEL"))
	if err != nil {
		return zerolog.WarnLevel
	}
	return level
}

// ParseLevel 解析日志级别名称，空字符串视为 warn
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.WarnLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(name))
}

// Logger 返回当前的 logger
func Logger() *zerolog.Logger {
	return logger.Load()
}

// SetOutput 替换日志输出，保留当前级别
func SetOutput(w io.Writer) {
	l := newLogger(w, Logger().GetLevel())
	logger.Store(&l)
}

// SetLevel 设置日志级别
func SetLevel(level zerolog.Level) {
	l := Logger().Level(level)
	logger.Store(&l)
}

// With 返回带有固定字段的子 logger
func With(fields map[string]interface{}) *zerolog.Logger {
	l := Logger().With().Fields(fields).Logger()
	return &l
}

func Debug(msg string) { Logger().Debug().Msg(msg) }

func Info(msg string) { Logger().Info().Msg(msg) }

func Warn(msg string) { Logger().Warn().Msg(msg) }

func Error(msg string) { Logger().Error().Msg(msg) }
