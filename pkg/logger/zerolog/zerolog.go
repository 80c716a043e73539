// Package zerolog adapts a zerolog.Logger to the logger.Logger interface.
package zerolog

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/logger"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// New returns a logger.Logger that writes through the given zerolog.Logger.
func New(l zerolog.Logger) logger.Logger {
	return &zerologLogger{logger: l}
}

func (l *zerologLogger) Error(msg string, args ...any) {
	emit(l.logger.Error(), msg, args)
}

func (l *zerologLogger) Warn(msg string, args ...any) {
	emit(l.logger.Warn(), msg, args)
}

func (l *zerologLogger) Info(msg string, args ...any) {
	emit(l.logger.Info(), msg, args)
}

func (l *zerologLogger) Debug(msg string, args ...any) {
	emit(l.logger.Debug(), msg, args)
}

// emit attaches slog-style alternating key/value args to the event. A trailing
// valueless key is logged as-is rather than dropped.
func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 != 0 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	ev.Msg(msg)
}
