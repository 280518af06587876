// Package logging provides the internal diagnostic logger shared by every
// core subsystem. Subsystems never surface internal errors to callers;
// they log here and continue.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once sync.Once
	std  = logrus.New()
)

// Fields is an alias for structured log fields.
type Fields = logrus.Fields

func init() {
	std.SetOutput(os.Stderr)
	std.SetLevel(logrus.InfoLevel)
}

// ToFile redirects logging to a rotated file, keeping stderr as a fallback
// for the process's own startup errors. Safe to call once; later calls are
// ignored.
func ToFile(path string) {
	once.Do(func() {
		std.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}))
	})
}

// SetLevel adjusts the minimum emitted level, e.g. for -v/debug flags.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

func WithField(key string, value any) *logrus.Entry  { return std.WithField(key, value) }
func WithFields(fields Fields) *logrus.Entry          { return std.WithFields(fields) }
func WithError(err error) *logrus.Entry               { return std.WithError(err) }
func Debugf(format string, args ...any)               { std.Debugf(format, args...) }
func Infof(format string, args ...any)                { std.Infof(format, args...) }
func Warnf(format string, args ...any)                { std.Warnf(format, args...) }
func Errorf(format string, args ...any)               { std.Errorf(format, args...) }
