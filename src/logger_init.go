package main

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// InitializeGlobalLogger configures logrus with the specified log level for
// the entire daemon. Called once at startup.
func InitializeGlobalLogger(logLevel string) {
	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.WarnLevel
		logrus.WithError(err).Warn("Failed to parse log level, defaulting to warn")
	}

	logrus.SetLevel(level)

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
