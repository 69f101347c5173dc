package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	Fatal(msg string, keyvals ...interface{})

	// With returns a child logger that stamps every entry with keyvals.
	With(keyvals ...interface{}) Logger
}

type zeroLogger struct {
	logger zerolog.Logger
}

// New builds a logger writing to stdout. format "text" selects the
// human-readable console writer, anything else emits JSON lines.
func New(level string, format string) Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(out io.Writer, level string, format string) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	output := out
	if format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}

	z := zerolog.New(output).Level(l).With().Timestamp().Logger()

	return &zeroLogger{logger: z}
}

// Nop discards everything. Engine components default to it so that nothing
// is ever written on behalf of a host page unless a logger is wired in.
func Nop() Logger {
	return &zeroLogger{logger: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, keyvals ...interface{}) {
	l.log(l.logger.Debug(), msg, keyvals...)
}

func (l *zeroLogger) Info(msg string, keyvals ...interface{}) {
	l.log(l.logger.Info(), msg, keyvals...)
}

func (l *zeroLogger) Warn(msg string, keyvals ...interface{}) {
	l.log(l.logger.Warn(), msg, keyvals...)
}

func (l *zeroLogger) Error(msg string, keyvals ...interface{}) {
	l.log(l.logger.Error(), msg, keyvals...)
}

func (l *zeroLogger) Fatal(msg string, keyvals ...interface{}) {
	l.log(l.logger.Fatal(), msg, keyvals...)
}

func (l *zeroLogger) With(keyvals ...interface{}) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			ctx = ctx.Interface(key, keyvals[i+1])
		}
	}
	return &zeroLogger{logger: ctx.Logger()}
}

func (l *zeroLogger) log(e *zerolog.Event, msg string, keyvals ...interface{}) {
	if e == nil {
		return
	}

	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			key, ok := keyvals[i].(string)
			if ok {
				if err, isErr := keyvals[i+1].(error); isErr {
					e.AnErr(key, err)
					continue
				}
				e.Interface(key, keyvals[i+1])
			}
		}
	}

	e.Msg(msg)
}
