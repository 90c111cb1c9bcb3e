package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

// RotatingWriter appends to a log file and rolls it over to a single
// ".1" backup once it grows past maxSize.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup routes the standard logger to stdout and a rotating file at logPath.
func Setup(logPath string) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(logPath, maxLogSize)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func NewRotatingWriter(logPath string, maxSize int64) (*RotatingWriter, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize && w.size > 0 {
		w.rotate()
	}

	n, err = w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

type Level int32

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

var minLevel atomic.Int32

// SetLevel filters out messages below the named level (info, warn, error).
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "warn", "warning":
		minLevel.Store(int32(LevelWarn))
	case "error":
		minLevel.Store(int32(LevelError))
	default:
		minLevel.Store(int32(LevelInfo))
	}
}

func Infof(format string, args ...any) {
	output(LevelInfo, "info", format, args...)
}

func Warnf(format string, args ...any) {
	output(LevelWarn, "warn", format, args...)
}

func Errorf(format string, args ...any) {
	output(LevelError, "error", format, args...)
}

func output(level Level, tag, format string, args ...any) {
	if int32(level) < minLevel.Load() {
		return
	}
	// calldepth 3 points Lshortfile at the caller of Infof/Warnf/Errorf
	log.Output(3, "["+tag+"] "+fmt.Sprintf(format, args...))
}
