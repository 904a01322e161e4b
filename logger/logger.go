package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var noopFunc = func() {}

// Trace returns a function that logs how long an operation took.
// Usage: defer logger.Trace("parser.Parse")()
func Trace(name string) func() {
	l := current()
	if !l.shouldLog(LevelTrace) {
		return noopFunc
	}
	start := time.Now()
	return func() {
		l.logWithLevel(LevelTrace, "%s: %v", name, time.Since(start))
	}
}

// DefaultMaxLines caps the log file when no limit is configured
const DefaultMaxLines = 5000

// Level is a logging severity
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
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

// ParseLevel parses a level name, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// LimitedLogger writes leveled lines to a file and keeps only the newest maxLines lines.
// A logger without a backing file (stderr, buffers in tests) never rotates.
type LimitedLogger struct {
	mu        sync.Mutex
	out       io.Writer
	file      *os.File
	lineCount int
	maxLines  int
	level     Level
}

var (
	globalMu     sync.RWMutex
	globalLogger *LimitedLogger
	fallback     = &LimitedLogger{out: os.Stderr, level: LevelInfo}
)

func current() *LimitedLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return fallback
}

// Open opens (or creates) path and installs a file-backed logger as the global logger
func Open(path string, level Level, maxLines int) (*LimitedLogger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	ll := &LimitedLogger{out: f, file: f, level: level, maxLines: maxLines}
	ll.countExistingLines()
	SetGlobal(ll)
	return ll, nil
}

// New returns a logger writing to w without rotation
func New(w io.Writer, level Level) *LimitedLogger {
	return &LimitedLogger{out: w, level: level}
}

// SetGlobal installs l as the logger behind the package-level functions; nil restores stderr
func SetGlobal(l *LimitedLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// SetLevel changes the minimum level written
func (ll *LimitedLogger) SetLevel(level Level) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.level = level
}

func (ll *LimitedLogger) shouldLog(level Level) bool {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return level >= ll.level
}

func (ll *LimitedLogger) logWithLevel(level Level, format string, v ...any) {
	if !ll.shouldLog(level) {
		return
	}
	msg := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, v...))
	ll.Write([]byte(msg))
}

func (ll *LimitedLogger) Debug(format string, v ...any) { ll.logWithLevel(LevelDebug, format, v...) }
func (ll *LimitedLogger) Info(format string, v ...any)  { ll.logWithLevel(LevelInfo, format, v...) }
func (ll *LimitedLogger) Warn(format string, v ...any)  { ll.logWithLevel(LevelWarn, format, v...) }
func (ll *LimitedLogger) Error(format string, v ...any) { ll.logWithLevel(LevelError, format, v...) }

// Fatal logs at ERROR and exits with code 1
func (ll *LimitedLogger) Fatal(format string, v ...any) {
	ll.logWithLevel(LevelError, format, v...)
	os.Exit(1)
}

func Debug(format string, v ...any) { current().Debug(format, v...) }
func Info(format string, v ...any)  { current().Info(format, v...) }
func Warn(format string, v ...any)  { current().Warn(format, v...) }
func Error(format string, v ...any) { current().Error(format, v...) }
func Fatal(format string, v ...any) { current().Fatal(format, v...) }

func (ll *LimitedLogger) countExistingLines() {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	ll.file.Seek(0, io.SeekStart)
	scanner := bufio.NewScanner(ll.file)
	count := 0
	for scanner.Scan() {
		count++
	}
	ll.lineCount = count
	ll.file.Seek(0, io.SeekEnd)
}

// Write implements io.Writer so the standard log package can share the file
func (ll *LimitedLogger) Write(p []byte) (n int, err error) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	n, err = ll.out.Write(p)
	if err != nil {
		return n, err
	}

	if ll.file == nil {
		return n, nil
	}
	ll.lineCount += strings.Count(string(p), "\n")
	if ll.lineCount > ll.maxLines {
		ll.rotate()
	}
	return n, nil
}

// rotate keeps the newest maxLines lines. Caller holds mu.
func (ll *LimitedLogger) rotate() {
	ll.file.Seek(0, io.SeekStart)
	scanner := bufio.NewScanner(ll.file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > ll.maxLines {
		lines = lines[len(lines)-ll.maxLines:]
	}

	ll.file.Truncate(0)
	ll.file.Seek(0, io.SeekStart)
	w := bufio.NewWriter(ll.file)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	w.Flush()
	ll.lineCount = len(lines)
}

// Close closes the backing file, if any
func (ll *LimitedLogger) Close() error {
	if ll.file == nil {
		return nil
	}
	return ll.file.Close()
}
