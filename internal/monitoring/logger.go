// Package monitoring holds the process-wide diagnostic logger and the
// Prometheus collectors shared by the store, fingerprint and inference layers.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) { debugEnabled.Store(on) }

// DebugEnabled reports whether Debugf currently emits anything.
func DebugEnabled() bool { return debugEnabled.Load() }

func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}

func Infof(format string, v ...interface{}) {
	Logf("[info] "+format, v...)
}

func Warnf(format string, v ...interface{}) {
	Logf("[warn] "+format, v...)
}

func Errorf(format string, v ...interface{}) {
	Logf("[error] "+format, v...)
}
