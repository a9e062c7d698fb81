// Package monitoring carries the diagnostic logger shared by the pipeline
// stages.
package monitoring

import (
	"log"
	"time"
)

// Logf receives every pipeline log line, prefixed with the bracketed name of
// the stage that wrote it ("[ztf]", "[store]"). It writes through log.Printf
// unless SetLogger installs something else.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger routes pipeline logging to f; nil discards it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Timed logs how long a pipeline stage took once the returned func is called:
//
//	defer monitoring.Timed("[plasticc] classes remapped")()
func Timed(label string) func() {
	start := time.Now()
	return func() {
		Logf("%s in %s", label, time.Since(start))
	}
}
