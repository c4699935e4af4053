package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は文字列からログレベルを解析する
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Format は出力形式を表す
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat は文字列から出力形式を解析する
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// Record は1件のログレコード
type Record struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	ID      string    `json:"id,omitempty"`
	Message string    `json:"msg"`
}

// Logger はスレッドセーフなロガー
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	format   Format
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	return &Logger{
		out:      out,
		minLevel: minLevel,
	}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetFormat は出力形式を設定する
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

// Enabled は指定レベルが出力対象かどうかを返す
func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.minLevel
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, id string, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	now := time.Now()
	msg := fmt.Sprintf(format, args...)

	if l.format == FormatJSON {
		data, err := json.Marshal(Record{Time: now, Level: level.String(), ID: id, Message: msg})
		if err != nil {
			return
		}
		_, _ = l.out.Write(append(data, '\n'))
		return
	}

	timestamp := now.Format("2006-01-02 15:04:05.000")
	if id != "" {
		_, _ = fmt.Fprintf(l.out, "[%s] [%s] [%s] %s\n", timestamp, level, id, msg)
	} else {
		_, _ = fmt.Fprintf(l.out, "[%s] [%s] %s\n", timestamp, level, msg)
	}
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(id string, format string, args ...any) {
	l.log(LevelDebug, id, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(id string, format string, args ...any) {
	l.log(LevelInfo, id, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(id string, format string, args ...any) {
	l.log(LevelWarn, id, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(id string, format string, args ...any) {
	l.log(LevelError, id, format, args...)
}

// For は識別子を束縛したハンドルを返す
func (l *Logger) For(id string) *Handle {
	return &Handle{logger: l, id: id}
}

// Handle はタスクごとに渡す軽量なロガー
type Handle struct {
	logger *Logger
	id     string
}

// ID はハンドルの識別子を返す
func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Debug(format string, args ...any) { h.logger.Debug(h.id, format, args...) }
func (h *Handle) Info(format string, args ...any)  { h.logger.Info(h.id, format, args...) }
func (h *Handle) Warn(format string, args ...any)  { h.logger.Warn(h.id, format, args...) }
func (h *Handle) Error(format string, args ...any) { h.logger.Error(h.id, format, args...) }

// グローバル関数（デフォルトロガーを使用）

// For はデフォルトロガーのハンドルを返す
func For(id string) *Handle {
	return Default.For(id)
}

// Debug はデバッグログを出力する
func Debug(id string, format string, args ...any) {
	Default.Debug(id, format, args...)
}

// Info は情報ログを出力する
func Info(id string, format string, args ...any) {
	Default.Info(id, format, args...)
}

// Warn は警告ログを出力する
func Warn(id string, format string, args ...any) {
	Default.Warn(id, format, args...)
}

// Error はエラーログを出力する
func Error(id string, format string, args ...any) {
	Default.Error(id, format, args...)
}
