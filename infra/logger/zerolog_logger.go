package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

var (
	defaultsMu     sync.RWMutex
	defaultLevel   string
	defaultConsole bool
)

// Configure sets the level and output format used by loggers created
// afterwards. LOG_LEVEL and APP_ENV still take precedence.
func Configure(level string, console bool) {
	defaultsMu.Lock()
	defaultLevel, defaultConsole = level, console
	defaultsMu.Unlock()
}

// NewZerologLogger creates a ZerologLogger writing to stdout. APP_ENV=dev switches
// to the human readable console writer; LOG_LEVEL sets the minimum level
// (debug, info, warn, error; default info). All logs include the component field.
func NewZerologLogger(component string) Logger {
	defaultsMu.RLock()
	level, console := defaultLevel, defaultConsole
	defaultsMu.RUnlock()
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	var w io.Writer = os.Stdout
	if console || strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(component, w, level)
}

// NewWithWriter creates a ZerologLogger writing JSON lines to w.
func NewWithWriter(component string, w io.Writer, level string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

// WithAgent returns a copy of l adding the agent_id field.
func (l *ZerologLogger) WithAgent(agentID string) *ZerologLogger {
	return &ZerologLogger{log: l.log.With().Str("agent_id", agentID).Logger()}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
