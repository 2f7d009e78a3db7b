// Package cortexlog is the ambient logger: append-only, leveled, writes to
// daemon.log and (when debug) stderr. Deliberately thin — just enough to
// give every component a consistent, component-scoped call shape.
package cortexlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	debug  bool
	prefix = ""
)

// Init points the logger at the daemon log file, tee'd to stderr when debug
// is set. Call once at daemon bootstrap.
func Init(logFile string, debugMode bool) error {
	mu.Lock()
	defer mu.Unlock()
	debug = debugMode
	if logFile == "" {
		out = os.Stderr
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if debugMode {
		out = io.MultiWriter(f, os.Stderr)
	} else {
		out = f
	}
	return nil
}

// Named returns a logger scoped to a component name, e.g. cortexlog.Named("ingest").
func Named(name string) *Logger {
	return &Logger{name: name}
}

// Logger is a component-scoped log handle.
type Logger struct{ name string }

func (l *Logger) write(level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	log.New(out, "", log.LstdFlags|log.Lmicroseconds).Printf("%s [%s] %s", level, l.name, msg)
}

func (l *Logger) Info(format string, args ...any)  { l.write("INFO", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.write("WARN", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.write("ERROR", format, args...) }

func (l *Logger) Debug(format string, args ...any) {
	if !debug {
		return
	}
	l.write("DEBUG", format, args...)
}
