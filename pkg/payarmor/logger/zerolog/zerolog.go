// Package zerolog adapts rs/zerolog to the payarmor.Logger interface.
package zerolog

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// Logger writes payarmor log lines through a zerolog.Logger.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...payarmor.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...payarmor.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...payarmor.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...payarmor.Field) {
	l.log(l.logger.Error(), msg, fields)
}

// log renders tenant/transaction strings, errors, and latencies with
// zerolog's typed appenders so downstream pipelines see consistent JSON
// types; anything else goes through Interface.
func (l *Logger) log(event *zerolog.Event, msg string, fields []payarmor.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case error:
			event = event.AnErr(f.Key, v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
