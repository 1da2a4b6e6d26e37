package util

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/pterm/pterm"
)

// Log returns a structured logger that writes through the shared pterm logger.
// V(0) maps to info, any higher verbosity maps to debug.
func Log() logr.Logger {
	return logr.New(&ptermSink{})
}

// ptermSink is a logr.LogSink backed by pterm.DefaultLogger.
type ptermSink struct {
	name   string
	values []interface{}
}

func (s *ptermSink) Init(logr.RuntimeInfo) {}

func (s *ptermSink) Enabled(level int) bool {
	if level > 0 {
		return pterm.DefaultLogger.CanPrint(pterm.LogLevelDebug)
	}
	return pterm.DefaultLogger.CanPrint(pterm.LogLevelInfo)
}

func (s *ptermSink) Info(level int, msg string, kv ...interface{}) {
	args := pterm.DefaultLogger.Args(s.merge(kv)...)
	if level > 0 {
		pterm.DefaultLogger.Debug(msg, args)
		return
	}
	pterm.DefaultLogger.Info(msg, args)
}

func (s *ptermSink) Error(err error, msg string, kv ...interface{}) {
	merged := s.merge(kv)
	if err != nil {
		merged = append(merged, "err", err.Error())
	}
	pterm.DefaultLogger.Error(msg, pterm.DefaultLogger.Args(merged...))
}

func (s *ptermSink) WithValues(kv ...interface{}) logr.LogSink {
	values := make([]interface{}, 0, len(s.values)+len(kv))
	values = append(values, s.values...)
	values = append(values, kv...)
	return &ptermSink{name: s.name, values: values}
}

func (s *ptermSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = strings.Join([]string{s.name, name}, ".")
	}
	return &ptermSink{name: name, values: s.values}
}

func (s *ptermSink) merge(kv []interface{}) []interface{} {
	out := make([]interface{}, 0, len(s.values)+len(kv)+2)
	if s.name != "" {
		out = append(out, "logger", s.name)
	}
	out = append(out, s.values...)
	return append(out, kv...)
}
