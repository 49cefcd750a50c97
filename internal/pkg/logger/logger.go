// Package logger builds the process-wide structured logger.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New constructs a logrus logger. Verbose enables debug-level output.
func New(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// NewNop returns a logger that discards everything; used in tests.
func NewNop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
