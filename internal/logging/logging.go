// Package logging configures the standard logger the way the teacher's
// tdns/logging.go does: lumberjack-backed file rotation when a log file
// is configured, plain stdlib log.SetFlags otherwise.
package logging

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at logfile with rotation, or leaves
// it on stderr with file/line flags when logfile is empty. Unlike the
// teacher's server-side SetupLogging, an empty logfile is not fatal
// here: the query engine is a CLI tool and logging to a file is opt-in,
// not mandatory.
func Setup(logfile string) {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if logfile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     14,
		})
	}
}

// SetupCLI matches tdns/logging.go's SetupCliLogging: no timestamps by
// default, file/line plus timestamps once verbose or debug is requested.
func SetupCLI(verbose, debug bool) {
	if verbose || debug {
		log.SetFlags(log.Lshortfile | log.Ltime)
	} else {
		log.SetFlags(0)
	}
}
