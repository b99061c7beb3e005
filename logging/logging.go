package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New builds the process logger. format is "text" or "json"; an unknown
// level falls back to info.
func New(level, format string) *log.Logger {
	return NewWithOutput(os.Stderr, level, format)
}

// NewWithOutput is New writing to out.
func NewWithOutput(out io.Writer, level, format string) *log.Logger {
	logger := log.New()
	logger.SetOutput(out)

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	}
	return logger
}

// Discard is a logger for tests and library callers that pass nil.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Module returns an entry tagged with the emitting module.
func Module(logger log.FieldLogger, module string) *log.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("module", module)
}
