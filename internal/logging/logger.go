package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type Logger struct {
	name  string
	level Level
	zl    zerolog.Logger
	mu    sync.RWMutex
}

var (
	defaultLogger *Logger
	output        io.Writer = os.Stderr
	format                  = FormatConsole
	once          sync.Once
	outputMu      sync.RWMutex
)

func Init(level Level) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		defaultLogger = newLogger("", level)
	})
}

// Configure sets the sink and encoding used by loggers created afterwards.
// It must run before Init to affect the default logger.
func Configure(w io.Writer, f Format) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w != nil {
		output = w
	}
	if f == FormatJSON || f == FormatConsole {
		format = f
	}
}

func GetLogger() *Logger {
	Init(LevelInfo)
	return defaultLogger
}

func NewLogger(name string) *Logger {
	return newLogger(name, GetLogger().currentLevel())
}

func newLogger(name string, level Level) *Logger {
	outputMu.RLock()
	w, f := output, format
	outputMu.RUnlock()

	if f == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	ctx := zerolog.New(w).With().Timestamp()
	if name != "" {
		ctx = ctx.Str("component", name)
	}
	return &Logger{name: name, level: level, zl: ctx.Logger()}
}

// ParseLevel maps a LOG_LEVEL string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) currentLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if level < l.currentLevel() {
		return
	}

	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelInfo:
		ev = l.zl.Info()
	case LevelWarn:
		ev = l.zl.Warn()
	default:
		ev = l.zl.Error()
	}
	for _, f := range fields {
		ev = appendField(ev, f)
	}
	ev.Msg(msg)
}

type Field struct {
	Key   string
	Value interface{}
}

func appendField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch val := f.Value.(type) {
	case string:
		return ev.Str(f.Key, val)
	case bool:
		return ev.Bool(f.Key, val)
	case int:
		return ev.Int(f.Key, val)
	case int64:
		return ev.Int64(f.Key, val)
	case uint32:
		return ev.Uint32(f.Key, val)
	case uint64:
		return ev.Uint64(f.Key, val)
	case time.Duration:
		return ev.Str(f.Key, val.String())
	case error:
		return ev.AnErr(f.Key, val)
	default:
		return ev.Str(f.Key, FormatValue(val))
	}
}

func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int, int64, int32, uint, uint64, uint32:
		return fmt.Sprintf("%d", val)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func Debug(msg string, fields ...Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	GetLogger().Error(msg, fields...)
}
