// Package logging constructs the single *logrus.Logger used across the
// core, matching the teacher's logrus.New()+JSONFormatter setup.
package logging

import (
	"github.com/sirupsen/logrus"
)

// New builds the process-wide structured logger. level is parsed with
// logrus.ParseLevel; an invalid level falls back to Info.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// WithComponent returns an entry tagged with a "component" field; nothing
// in this repository calls it yet.
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
