// Package log provides the process-wide logger. It wraps logrus so every
// component logs with the same level, format and fields.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

func base() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return logger
}

// Init configures the global logger. Valid levels are the logrus level
// names; anything unparsable falls back to info. Format "json" selects the
// JSON formatter, anything else the text formatter. Entries obtained from
// For before Init follow the new settings.
func Init(level, format string) {
	l := base()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// L returns the global logger.
func L() *logrus.Logger {
	return base()
}

// For returns an entry tagged with the given component name.
func For(component string) *logrus.Entry {
	return L().WithField("component", component)
}

func Debugf(format string, args ...any) { L().Debugf(format, args...) }
func Infof(format string, args ...any)  { L().Infof(format, args...) }
func Warnf(format string, args ...any)  { L().Warnf(format, args...) }
func Errorf(format string, args ...any) { L().Errorf(format, args...) }
func Fatalf(format string, args ...any) { L().Fatalf(format, args...) }
