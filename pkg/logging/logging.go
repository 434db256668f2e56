// Package logging is the process-scoped logging sink every PrivCount
// node configures once at startup (SPEC_FULL.md §2A "Logging":
// replace ad hoc fmt.Printf diagnostics with one sink
// passed explicitly, never a package-level implicit global).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a minimal leveled wrapper around the standard library's
// log.Logger: plain text, no structured fields.
type Logger struct {
	verbose bool
	out     *log.Logger
}

// New builds a Logger writing to w. verbose gates Debugf output, the
// same switch a CLI exposes via --verbose.
func New(w io.Writer, verbose bool) *Logger {
	return &Logger{verbose: verbose, out: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// Default builds a Logger writing to stderr.
func Default(verbose bool) *Logger {
	return New(os.Stderr, verbose)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.out.Print("INFO  " + fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.out.Print("WARN  " + fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.out.Print("ERROR " + fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.out.Print("DEBUG " + fmt.Sprintf(format, args...))
}

// WithRound returns a helper that prefixes every message with the round
// ID, satisfying spec.md §7's "Errors are logged with round_id context".
func (l *Logger) WithRound(roundID string) *RoundLogger {
	return &RoundLogger{l: l, roundID: roundID}
}

// RoundLogger is a Logger scoped to one round_id.
type RoundLogger struct {
	l       *Logger
	roundID string
}

func (r *RoundLogger) Infof(format string, args ...interface{}) {
	r.l.Infof("[round=%s] "+format, append([]interface{}{r.roundID}, args...)...)
}

func (r *RoundLogger) Warnf(format string, args ...interface{}) {
	r.l.Warnf("[round=%s] "+format, append([]interface{}{r.roundID}, args...)...)
}

func (r *RoundLogger) Errorf(format string, args ...interface{}) {
	r.l.Errorf("[round=%s] "+format, append([]interface{}{r.roundID}, args...)...)
}

func (r *RoundLogger) Debugf(format string, args ...interface{}) {
	r.l.Debugf("[round=%s] "+format, append([]interface{}{r.roundID}, args...)...)
}
