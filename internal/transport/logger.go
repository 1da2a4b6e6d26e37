package transport

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"

	"github.com/1ureka/pairroom/internal/util"
)

// LoggerFactory routes pion's internal logging into the shared pterm logger.
// pion info lines are demoted to debug; they are chatty.
type LoggerFactory struct {
	Level logging.LogLevel
}

// NewLoggerFactory passes warnings and errors, plus info when debug output is
// enabled.
func NewLoggerFactory() *LoggerFactory {
	level := logging.LogLevelWarn
	if util.DebugEnabled() {
		level = logging.LogLevelInfo
	}
	return &LoggerFactory{Level: level}
}

// NewLogger implements logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &ptermLogger{scope: "pion/" + scope, level: f.Level}
}

type ptermLogger struct {
	scope string
	level logging.LogLevel
}

func (l *ptermLogger) log(level logging.LogLevel, msg string) {
	if level > l.level {
		return
	}
	args := pterm.DefaultLogger.Args("scope", l.scope)
	switch level {
	case logging.LogLevelError:
		pterm.DefaultLogger.Error(msg, args)
	case logging.LogLevelWarn:
		pterm.DefaultLogger.Warn(msg, args)
	case logging.LogLevelInfo:
		pterm.DefaultLogger.Debug(msg, args)
	default:
		pterm.DefaultLogger.Trace(msg, args)
	}
}

func (l *ptermLogger) Trace(msg string) { l.log(logging.LogLevelTrace, msg) }
func (l *ptermLogger) Tracef(format string, args ...interface{}) {
	l.log(logging.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l *ptermLogger) Debug(msg string) { l.log(logging.LogLevelDebug, msg) }
func (l *ptermLogger) Debugf(format string, args ...interface{}) {
	l.log(logging.LogLevelDebug, fmt.Sprintf(format, args...))
}
func (l *ptermLogger) Info(msg string) { l.log(logging.LogLevelInfo, msg) }
func (l *ptermLogger) Infof(format string, args ...interface{}) {
	l.log(logging.LogLevelInfo, fmt.Sprintf(format, args...))
}
func (l *ptermLogger) Warn(msg string) { l.log(logging.LogLevelWarn, msg) }
func (l *ptermLogger) Warnf(format string, args ...interface{}) {
	l.log(logging.LogLevelWarn, fmt.Sprintf(format, args...))
}
func (l *ptermLogger) Error(msg string) { l.log(logging.LogLevelError, msg) }
func (l *ptermLogger) Errorf(format string, args ...interface{}) {
	l.log(logging.LogLevelError, fmt.Sprintf(format, args...))
}
