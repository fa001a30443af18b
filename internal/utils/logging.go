package utils

import (
	"log"
	"strings"
)

var debug bool

// InitLogging initializes logging
func InitLogging(level string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	debug = strings.EqualFold(level, "debug")
	if debug {
		log.Println("UTILS: Debug logging enabled")
	}
}

// Debugf logs only when the log level is debug
func Debugf(format string, args ...interface{}) {
	if debug {
		log.Printf(format, args...)
	}
}

// IsDebug reports whether debug logging is enabled
func IsDebug() bool {
	return debug
}
