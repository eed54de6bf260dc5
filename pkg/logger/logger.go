package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a case-insensitive level name to a Level.
// An empty string yields INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	prefix string
	now    func() time.Time
}

var defaultLogger = New(os.Stdout, INFO)

func New(out io.Writer, level Level) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		out:   out,
		level: level,
		now:   time.Now,
	}
}

// With returns a logger sharing l's output and level whose lines carry prefix.
func (l *Logger) With(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := prefix
	if l.prefix != "" {
		p = l.prefix + " " + prefix
	}
	return &Logger{out: l.out, level: l.level, prefix: p, now: l.now}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Default returns the process-wide logger used by the package functions.
func Default() *Logger {
	return defaultLogger
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	timestamp := l.now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}

	line := fmt.Sprintf("[%s] %s: %s\n", timestamp, level, msg)
	_, _ = io.WriteString(l.out, line)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// Global functions
func Debug(format string, v ...interface{}) {
	defaultLogger.log(DEBUG, format, v...)
}

func Info(format string, v ...interface{}) {
	defaultLogger.log(INFO, format, v...)
}

func Warn(format string, v ...interface{}) {
	defaultLogger.log(WARN, format, v...)
}

func Error(format string, v ...interface{}) {
	defaultLogger.log(ERROR, format, v...)
}

// Init routes the standard library logger (used by net/http) through the
// default logger's output.
func Init() {
	defaultLogger.mu.Lock()
	out := defaultLogger.out
	defaultLogger.mu.Unlock()
	log.SetOutput(out)
	log.SetFlags(0)
}
