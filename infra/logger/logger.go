package logger

import corelogger "github.com/kilianp07/driverlink/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given component. The output format is selected
// by APP_ENV and the minimum level by LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// ForAgent is New with every line tagged by agent_id.
func ForAgent(component, agentID string) Logger {
	l := NewZerologLogger(component)
	if z, ok := l.(*ZerologLogger); ok && agentID != "" {
		return z.WithAgent(agentID)
	}
	return l
}
