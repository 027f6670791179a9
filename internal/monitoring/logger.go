package monitoring

import (
	"log"
	"os"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf logs only when COLDWATCH_DEBUG is set in the environment. Verbose
// per-reading tracing goes through here so normal runs stay quiet.
var Debugf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	if os.Getenv("COLDWATCH_DEBUG") != "" {
		log.Printf(format, v...)
	}
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
