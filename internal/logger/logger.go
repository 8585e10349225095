package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _log = logrus.New()

// Options controls where and how the global logger writes.
type Options struct {
	Debug bool
	Level string // overrides the level implied by Debug when set
	File  string // rotated with lumberjack when set, in addition to Out
	Out   io.Writer
}

// Init initializes the global logger with output writer and debug level.
func Init(debug bool, out io.Writer) {
	Configure(Options{Debug: debug, Out: out})
}

// Configure applies opts to the global logger. An unknown Level is ignored.
func Configure(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	_log.SetOutput(out)

	if opts.Debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetLevel(logrus.InfoLevel)
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.Level != "" {
		if lvl, err := logrus.ParseLevel(opts.Level); err == nil {
			_log.SetLevel(lvl)
		}
	}
}

// Log returns a standard logger entry to use across packages.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns a logger entry with provided fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}
