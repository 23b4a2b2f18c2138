// Package logger wraps zerolog with the small, opinionated API the rest of
// loomwork uses for structured, leveled logging of workflow runs.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
}

// Logger is a thin, immutable wrapper around a zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

// New creates a configured Logger instance based on Options.
func New(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writer io.Writer = opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	if opts.HumanReadable {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	z := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}

// WithFields returns a derived logger that always writes the supplied fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return l
	}
	if len(fields) == 0 {
		return l
	}
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{z: ctx.Logger()}
}

// Info writes an informational log entry.
func (l *Logger) Info(msg string) {
	if l == nil {
		return
	}
	l.z.Info().Msg(msg)
}

// Debug writes a debug-level log entry if enabled.
func (l *Logger) Debug(msg string) {
	if l == nil {
		return
	}
	l.z.Debug().Msg(msg)
}

// Warn writes a warning level log entry.
func (l *Logger) Warn(msg string) {
	if l == nil {
		return
	}
	l.z.Warn().Msg(msg)
}

// Error writes an error level log entry, attaching err under the "error" field.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	l.z.Error().Err(err).Msg(msg)
}
