// Package monitoring tracks long-running agent health: frame throughput,
// detection totals and host resource pressure. Reports are written through
// the package-level Logf.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLogWriter routes Logf to w with a "[monitor] " prefix. A nil writer mutes it.
func SetLogWriter(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	l := log.New(w, "[monitor] ", log.LstdFlags|log.Lmicroseconds)
	SetLogger(l.Printf)
}
