package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level is the severity of a log message.
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
		return "?"
	}
}

var (
	fileLoggerInstance *fileLogger
	fileLoggerOnce     sync.Once
)

// fileLogger writes structured lines to weave-debug.log in the user's home
// directory. It is shared by every component logger.
type fileLogger struct {
	mu        sync.Mutex
	file      *os.File
	logger    *log.Logger
	level     Level
	component string
}

// NewComponentLogger returns a file-backed logger scoped to a component name.
func NewComponentLogger(component string) Logger {
	base := sharedFileLogger()
	return &fileLogger{
		file:      base.file,
		logger:    base.logger,
		level:     base.level,
		component: component,
	}
}

// SetLevel sets the minimum level for the shared file sink.
func SetLevel(level Level) {
	base := sharedFileLogger()
	base.mu.Lock()
	base.level = level
	base.mu.Unlock()
}

func sharedFileLogger() *fileLogger {
	fileLoggerOnce.Do(func() {
		fileLoggerInstance = &fileLogger{level: LevelDebug}
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("logging: failed to resolve home directory: %v", err)
			return
		}
		path := filepath.Join(home, "weave-debug.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("logging: failed to open %s: %v", path, err)
			return
		}
		fileLoggerInstance.file = file
		fileLoggerInstance.logger = log.New(file, "", 0)
	})
	return fileLoggerInstance
}

func (l *fileLogger) log(level Level, format string, args ...any) {
	if level < l.level || l.logger == nil {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	component := l.component
	if component == "" {
		component = "weave"
	}
	l.logger.Printf("%s [%s] [%s] %s:%d %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, component, file, line,
		fmt.Sprintf(format, args...))
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
