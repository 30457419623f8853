package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger used by the inference and
// storage packages. It defaults to log.Printf; SetLogger redirects or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose turns Debugf output on or off.
func SetVerbose(on bool) { verbose.Store(on) }

// Debugf logs through Logf only in verbose mode. Per-sample noise such as
// skipped records goes here.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// InitLogging sets the standard logger flags used by the command-line tools
// and points it at w (stdout when nil).
func InitLogging(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
