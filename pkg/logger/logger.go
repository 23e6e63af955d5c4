// Package logger is the ackudp transport's structured logger: a thin
// wrapper over logrus that tags every line with the owning transport's
// instance id and, where relevant, a per-call correlation id minted with
// rs/xid. It also carries the console banner/section helpers used by the
// example command.
package logger

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry pre-populated with the owning transport's
// instance field.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger tagged with instanceID, logging at level (or Info
// if level is the zero value) to stderr with logrus's text formatter.
func New(instanceID uuid.UUID, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	if level == 0 {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return &Logger{entry: base.WithField("instance", shortID(instanceID.String()))}
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// WithOp returns a child Logger tagged with a per-call correlation id, so
// every line logged by one Send invocation or one processor iteration can
// be grepped out of interleaved listener/processor/sweeper output.
func (l *Logger) WithOp(op xid.ID) *Logger {
	return &Logger{entry: l.entry.WithField("op", op.String())}
}

// NewOp mints a fresh correlation id for WithOp.
func NewOp() xid.ID {
	return xid.New()
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Success logs at info level with a status field, for the handful of
// lines (such as bind succeeded) worth visually distinguishing
// in a terminal with a level-aware formatter.
func (l *Logger) Success(format string, args ...interface{}) {
	l.entry.WithField("status", "success").Infof(format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// Section prints a plain console section header. It is a cosmetic
// console helper for the example command, not a structured log line.
func Section(title string) {
	border := "==============================================================="
	fmt.Printf("\n%s\n %s\n%s\n\n", border, title, border)
}

// Banner prints the example command's startup banner.
func Banner(title, version string) {
	fmt.Printf("\n%s  (%s)\n%s\n\n", title, version, "a reliable-message transport over UDP")
}
