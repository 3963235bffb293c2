// Package eventlog is the structured domain event log: items carry
// microsecond times, a level, a kind and the context that emitted them.
// The file backend writes one JSON object per line; the memory backend
// keeps a bounded history for inspection over the API.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of an event-log item.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "unknown"
}

// ParseLevel parses the configuration representation of a level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	}
	return slog.LevelError
}

// Item is one event-log entry. All times are integer microseconds.
type Item struct {
	LogTime      int64  `json:"logTime"`
	ContextTime  int64  `json:"contextTime"`
	SystemTime   int64  `json:"systemTime"`
	Level        string `json:"level"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	ContextName  string `json:"contextName"`
	ContextIndex uint64 `json:"contextIndex"`
}

const memoryHistorySize = 4096

// Log is the event log itself. Contexts are created from it; items are
// appended in call order, though file storage may lag the append.
type Log struct {
	mu        sync.Mutex
	level     Level
	print     bool
	start     time.Time
	nextIndex uint64

	// Memory history. Kept even with a file backend so the API can
	// serve recent items without re-reading the file.
	items []Item

	file *os.File
	zl   *zerolog.Logger
}

// NewMemoryLog creates a log that keeps items only in memory.
func NewMemoryLog(level Level, print bool) *Log {
	return &Log{level: level, print: print, start: time.Now()}
}

// NewFileLog creates a log that appends one JSON object per line to
// path in addition to the in-memory history.
func NewFileLog(path string, level Level, print bool) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	zl := zerolog.New(f)
	return &Log{level: level, print: print, start: time.Now(), file: f, zl: &zl}, nil
}

// Reconfigure changes the level and print setting at runtime. The
// backing path cannot change.
func (l *Log) Reconfigure(level Level, print bool) {
	l.mu.Lock()
	l.level = level
	l.print = print
	l.mu.Unlock()
}

// Context mints a logging context with a fresh context index.
func (l *Log) Context(name string) *Context {
	l.mu.Lock()
	index := l.nextIndex
	l.nextIndex++
	l.mu.Unlock()
	return &Context{log: l, name: name, index: index, start: time.Now()}
}

// Items returns a copy of the in-memory history.
func (l *Log) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Log) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Log) append(item Item, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	l.items = append(l.items, item)
	if len(l.items) > memoryHistorySize {
		l.items = l.items[len(l.items)-memoryHistorySize:]
	}
	if l.zl != nil {
		l.zl.Log().
			Int64("logTime", item.LogTime).
			Int64("contextTime", item.ContextTime).
			Int64("systemTime", item.SystemTime).
			Str("level", item.Level).
			Str("kind", item.Kind).
			Str("message", item.Message).
			Str("contextName", item.ContextName).
			Uint64("contextIndex", item.ContextIndex).
			Send()
	}
	if l.print {
		slog.Log(context.Background(), level.slogLevel(), item.Message,
			"kind", item.Kind, "context", item.ContextName, "contextIndex", item.ContextIndex)
	}
}

// Context is a named per-subsystem (or per-request) view of the log.
type Context struct {
	log   *Log
	index uint64
	name  string
	start time.Time
}

func (c *Context) Log() *Log { return c.log }

func (c *Context) emit(level Level, kind, message string) {
	now := time.Now()
	c.log.append(Item{
		LogTime:      now.Sub(c.log.start).Microseconds(),
		ContextTime:  now.Sub(c.start).Microseconds(),
		SystemTime:   now.UnixMicro(),
		Level:        level.String(),
		Kind:         kind,
		Message:      message,
		ContextName:  c.name,
		ContextIndex: c.index,
	}, level)
}

func (c *Context) Debug(kind, message string)   { c.emit(LevelDebug, kind, message) }
func (c *Context) Info(kind, message string)    { c.emit(LevelInfo, kind, message) }
func (c *Context) Warning(kind, message string) { c.emit(LevelWarning, kind, message) }
func (c *Context) Error(kind, message string)   { c.emit(LevelError, kind, message) }
func (c *Context) Fatal(kind, message string)   { c.emit(LevelFatal, kind, message) }
