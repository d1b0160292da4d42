// Package logging wraps logrus the way redis_stream's package-level
// logger does: a shared entry carrying a correlation id, enabled or
// silenced wholesale by a verbose flag so a quiet Inflow costs nothing.
package logging

import "github.com/sirupsen/logrus"

// Logger is the (id, message) sink of spec §6 "Logger sink".
type Logger struct {
	entry   *logrus.Entry
	verbose bool
}

// New builds a Logger correlated by logID (spec §6 "log_id(str)"), default
// "NO_ID" per spec §6. verbose gates every internal log line: when false,
// all of the methods below are no-ops.
func New(logID string, verbose bool) *Logger {
	if logID == "" {
		logID = "NO_ID"
	}
	return &Logger{
		entry:   logrus.WithFields(logrus.Fields{"log_id": logID}),
		verbose: verbose,
	}
}

// With returns a child Logger with an additional field, e.g. the
// component name ("sharedhot", "coalescer", "scheduler", "pager").
func (l *Logger) With(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component), verbose: l.verbose}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l.verbose {
		l.entry.Debugf(format, args...)
	}
}

func (l *Logger) Tracef(format string, args ...any) {
	if l.verbose {
		l.entry.Tracef(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.verbose {
		l.entry.Warnf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l.verbose {
		l.entry.Errorf(format, args...)
	}
}

// Noop is a Logger that never prints, used as the zero-value default.
var Noop = New("NO_ID", false)
