// Package logger wraps logrus for structured logging across the control room.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus for structured logging with field support.
type Logger struct {
	*logrus.Entry
}

// New creates a logger on the standard logrus instance.
func New() *Logger {
	return &Logger{Entry: logrus.NewEntry(logrus.StandardLogger())}
}

// Configure builds a dedicated logrus instance from level and format
// ("text" or "json"). Unknown levels fall back to info.
func Configure(level, format string, out io.Writer) *Logger {
	base := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	base.SetOutput(out)
	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// WithField adds a field to the logger.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// WithError attaches err under the standard error key.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithOperator tags entries with the acting operator.
func (l *Logger) WithOperator(name string) *Logger {
	return l.WithField("operator", name)
}

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}
