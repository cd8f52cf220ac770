// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("starting engine")
//	logger.Debugf("spot=%f vol=%f", spot, vol)
package logger

import (
	"log"
	"os"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

// current holds the active verbosity level.
// Only messages with level <= current are logged.
var current Level = Info

func init() {
	// Logs go to stderr so they stay separate from report output on stdout.
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// SetVerbosity sets the global logging verbosity.
// Typically called once during application startup, after config load.
func SetVerbosity(v int) {
	current = Level(v)
}

func logf(l Level, prefix, format string, args ...any) {
	if current >= l {
		log.Printf(prefix+format, args...)
	}
}

// Errorf logs an error-level message.
func Errorf(format string, args ...any) {
	logf(Error, "[ERROR] ", format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logf(Info, "[INFO]  ", format, args...)
}

// Debugf logs debugging information.
func Debugf(format string, args ...any) {
	logf(Debug, "[DEBUG] ", format, args...)
}

// Tracef logs very detailed execution traces. High volume.
func Tracef(format string, args ...any) {
	logf(Trace, "[TRACE] ", format, args...)
}
