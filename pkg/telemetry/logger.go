package telemetry

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog.Logger carrying engine and unit fields.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger derives a logger from base, the process logger, limited to the
// configured level.
func NewLogger(base zerolog.Logger, cfg LoggingConfig) *Logger {
	return &Logger{zlog: base.Level(ParseLevel(cfg.Level))}
}

// NewLoggerTo creates a logger writing to w in the configured format.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return NewLogger(zerolog.New(w).With().Timestamp().Logger(), cfg)
}

// Zerolog returns the underlying logger, e.g. for engine.WithLogger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithEngineID adds an engine_id field.
func (l *Logger) WithEngineID(id string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("engine_id", id) })
}

// WithUnit adds the unit name and registry path.
func (l *Logger) WithUnit(name, path string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("unit", name).Str("unit_path", path)
	})
}

// Debug starts a debug message.
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Info starts an info message.
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Error starts an error message.
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// VerbosityLevel maps a -v count to a level: warn by default, then info, debug and trace.
func VerbosityLevel(verbose int) zerolog.Level {
	switch {
	case verbose <= 0:
		return zerolog.WarnLevel
	case verbose == 1:
		return zerolog.InfoLevel
	case verbose == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SwitchWriter forwards writes to a destination that can be replaced while
// loggers built on top of it are in use.
type SwitchWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewSwitchWriter creates a writer forwarding to out.
func NewSwitchWriter(out io.Writer) *SwitchWriter {
	return &SwitchWriter{out: out}
}

// Write implements io.Writer.
func (s *SwitchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

// Swap installs out and returns the previous destination.
func (s *SwitchWriter) Swap(out io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.out
	s.out = out
	return prev
}
