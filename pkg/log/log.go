// Package log is a thin structured-logging wrapper used by every other
// package in this module. It mirrors the Debugf/Infof/Warningf call shape
// used throughout the sentry packages this module was adapted from.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// std is the process-wide logger. Tests may swap its level or output via
// SetLevel/SetOutput without touching call sites.
var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum level emitted by the package logger. debug
// enables Debugf output; it is normally wired to a -debug flag.
func SetLevel(debug bool) {
	if debug {
		std.SetLevel(logrus.DebugLevel)
		return
	}
	std.SetLevel(logrus.InfoLevel)
}

// SetOutput redirects log output, e.g. to a log file donated by the CLI.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	std.SetOutput(w)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warningf logs at warning level.
func Warningf(format string, args ...any) { std.Warnf(format, args...) }

// Basicf logs at info level, which SetLevel never filters out, used for
// user-facing output that should always appear (CLI result lines).
func Basicf(format string, args ...any) { std.Infof(format, args...) }
