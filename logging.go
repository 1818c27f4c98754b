package main

import (
	"github.com/sirupsen/logrus"
)

// log is the process-wide structured logger. Every component logs
// through it with structured fields instead of Printf-style messages.
var log = logrus.New()

func initLogging(level string) {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}
