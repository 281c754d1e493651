package screener

import (
	"os"

	"github.com/root4loot/goutils/log"
	"github.com/sirupsen/logrus"
)

// Log is the package logger. It writes to stderr so stdout stays free for results.
// Its line format drops structured fields; UseStructuredLogs brings them back.
var Log = newLogger()

func newLogger() *log.Logger {
	l := log.NewLogger("pagesnap")
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogLevel sets the log level from the debug and silence switches.
func SetLogLevel(debug, silence bool) {
	switch {
	case silence:
		Log.SetLevel(logrus.FatalLevel)
	case debug:
		Log.SetLevel(logrus.DebugLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
}

// ParseLogLevel sets the log level by name ("debug", "info", "warn", ...).
func ParseLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}

// UseStructuredLogs switches Log to JSON lines carrying every field.
func UseStructuredLogs() {
	Log.SetFormatter(&logrus.JSONFormatter{})
}
