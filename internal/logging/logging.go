// Package logging wraps the standard log package in the bracketed-tag
// convention used throughout this codebase (log.Printf("[DB] ...",
// log.Printf("[WARN] ...")), extended to also satisfy the on-disk log
// line format <timestamp> - [LEVEL] <message> and to tee every line to
// both stdout and the configured log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger writes tagged, timestamped lines to stdout and (optionally) a
// log file. One Logger per component, e.g. logging.New("Broker").
type Logger struct {
	component string
	mu        *sync.Mutex
	out       io.Writer
}

var (
	sharedMu   sync.Mutex
	sharedFile *os.File
	sharedOut  io.Writer = os.Stdout
)

// SetLogFile opens path in append mode and tees all subsequent Logger
// output to it in addition to stdout. Passing an empty path disables the
// file sink and restores stdout-only logging.
func SetLogFile(path string) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedFile != nil {
		sharedFile.Close()
		sharedFile = nil
	}
	if path == "" {
		sharedOut = os.Stdout
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	sharedFile = f
	sharedOut = io.MultiWriter(os.Stdout, f)
	return nil
}

// New returns a Logger tagged with component, e.g. "[Broker]".
func New(component string) *Logger {
	return &Logger{component: component, mu: &sharedMu}
}

func (l *Logger) line(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	l.mu.Lock()
	out := sharedOut
	l.mu.Unlock()

	fmt.Fprintf(out, "%s - [%s] [%s] %s\n", ts, level, l.component, msg)
}

// Infof logs an informational line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.line("INFO", format, args...)
}

// Warnf logs a warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.line("WARN", format, args...)
}

// Errorf logs an error line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.line("ERROR", format, args...)
}

// Debugf logs a debug line. It writes unconditionally; it does not consult
// internal/config's logVerbose key.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.line("DEBUG", format, args...)
}

// Std returns a standard-library *log.Logger tagged the same way, for
// adapting code that still expects the stdlib interface.
func (l *Logger) Std() *log.Logger {
	return log.New(sharedOut, fmt.Sprintf("[%s] ", l.component), log.LstdFlags)
}
