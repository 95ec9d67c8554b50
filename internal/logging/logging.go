// Package logging configures TempleDB's process-wide logger. It mirrors
// the teacher's debug-logging concern (internal/debug, gated by an env
// var) but generalizes it into a proper leveled logger backed by
// gopkg.in/natefinch/lumberjack.v2 for rotation when TDB_LOG_TO_FILE is
// set, matching spec.md §6's log-to-file toggle.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is an ordered log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

var (
	mu      sync.Mutex
	level   = LevelInfo
	logger  = log.New(os.Stderr, "", log.LstdFlags)
	rotator *lumberjack.Logger
)

// Configure sets the minimum level and, when toFile is true, redirects
// output to <dataDir>/templedb.log with lumberjack rotation (10MB per
// file, 5 backups, 28 days retention — the teacher's own lumberjack
// dependency is otherwise unused in the retrieved source, wired here for
// exactly the log-rotation concern it exists for).
func Configure(lvl Level, toFile bool, dataDir string) error {
	mu.Lock()
	defer mu.Unlock()
	level = lvl

	var out io.Writer = os.Stderr
	if toFile {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(dataDir, "templedb.log"),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out = rotator
	}
	logger = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

func logf(lvl Level, format string, args ...interface{}) {
	mu.Lock()
	cur := level
	l := logger
	mu.Unlock()
	if lvl < cur {
		return
	}
	l.Printf("[%s] %s", lvl, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...interface{})  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { logf(LevelError, format, args...) }
