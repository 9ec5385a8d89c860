// Package xlog gives every package in this module the geth-family
// structured-logging call shape — log.Info("msg", "key", value, ...) — on
// top of a real third-party backend. The teacher's own log package (a geth
// log15/slog wrapper) was not part of the retrieval pack, so this
// re-implements the call convention visible at its call sites
// (consensus/dpos.go's log.Warn("...", "sealhash", h)) against
// github.com/sirupsen/logrus, which is the structured logger the example
// pack actually ships source for (orbas1-Synnergy).
package xlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the root logger's minimum level ("debug", "info", "warn",
// "error").
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	root.SetLevel(lvl)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

// Logger is a named child logger, analogous to geth's log.New(ctx...).
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger tagged with the given static key/value context.
func New(kv ...interface{}) *Logger {
	return &Logger{entry: root.WithFields(fields(kv))}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Error(msg) }
func (l *Logger) Crit(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Fatal(msg) }

// Package-level helpers mirror the teacher's call-site shape directly,
// e.g. log.Warn("DPoS sealing result not read by miner", "sealhash", h).
func Debug(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Debug(msg) }
func Info(msg string, kv ...interface{})  { root.WithFields(fields(kv)).Info(msg) }
func Warn(msg string, kv ...interface{})  { root.WithFields(fields(kv)).Warn(msg) }
func Error(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Error(msg) }
