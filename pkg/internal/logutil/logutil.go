package logutil

import (
    "io"
    "os"
    "strings"
    "sync/atomic"

    "github.com/sirupsen/logrus"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("REPMGR_LOG_JSON") == "1" || os.Getenv("REPMGR_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

// SetJSON switches loggers created by New to JSON output.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// New returns a logrus logger writing to w at the given level. An unknown
// level falls back to info.
func New(w io.Writer, level string) *logrus.Logger {
    l := logrus.New()
    if w != nil { l.SetOutput(w) }
    lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
    if err != nil { lvl = logrus.InfoLevel }
    l.SetLevel(lvl)
    if jsonMode.Load() {
        l.SetFormatter(&logrus.JSONFormatter{})
    } else {
        l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    return l
}

// Or returns l, or the logrus standard logger when l is nil.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
    if l == nil { return logrus.StandardLogger() }
    return l
}

func Infof(l logrus.FieldLogger, f string, args ...any)  { Or(l).Infof(f, args...) }
func Warnf(l logrus.FieldLogger, f string, args ...any)  { Or(l).Warnf(f, args...) }
func Errorf(l logrus.FieldLogger, f string, args ...any) { Or(l).Errorf(f, args...) }
