// Package logging centralizes the structured-logging conventions shared by
// every mepassa package: one logrus.Entry per package, seeded with a
// "package" field, and a level controlled by MEPASSA_LOG_LEVEL.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Base returns the process-wide logrus.Logger, configured once from the
// environment on first use.
func Base() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		level, err := logrus.ParseLevel(os.Getenv("MEPASSA_LOG_LEVEL"))
		if err != nil {
			level = logrus.InfoLevel
		}
		base.SetLevel(level)
	})
	return base
}

// For returns a package-scoped logger entry, the convention every mepassa
// package uses at the top of each exported function:
//
//	logger := logging.For("identity").WithField("function", "LoadOrCreate")
func For(pkg string) *logrus.Entry {
	return Base().WithField("package", pkg)
}
