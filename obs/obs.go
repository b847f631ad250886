// Package obs holds the narrow observability interfaces the library
// depends on, plus default implementations.
//
// Components receive a Logger and Metrics by injection; a process-wide
// default is assembled only at the application's entry point.
package obs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome labels for operation observations.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Logger is the logging surface library internals are allowed to use.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Metrics receives duration/outcome observations from the library.
type Metrics interface {
	// ObserveOperation records one completed operation with outcome
	// OutcomeSuccess or OutcomeError.
	ObserveOperation(name, outcome string, elapsed time.Duration)
	// IncCacheHit counts a stat served from the cache.
	IncCacheHit()
	// IncThrottle counts a rate-limited (429) response.
	IncThrottle()
}

// Outcome maps an error to the matching outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// logrusLogger adapts a logrus logger to the Logger interface.
type logrusLogger struct {
	l *logrus.Logger
}

// NewLogrusLogger returns a Logger writing through l, or through the
// logrus standard logger if l is nil.
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{l: l}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.l.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.l.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.l.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.l.Errorf(format, args...) }

// nopLogger discards everything.
type nopLogger struct{}

// NopLogger returns a Logger which discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// nopMetrics discards everything.
type nopMetrics struct{}

// NopMetrics returns a Metrics which discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) IncCacheHit()                                   {}
func (nopMetrics) IncThrottle()                                   {}
