package logging

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var current atomic.Pointer[zerolog.Logger]

func setLogger(l zerolog.Logger) {
	current.Store(&l)
	log.Logger = l
}

// Logger returns the configured process logger, or zerolog's global logger
// before Configure has run.
func Logger() zerolog.Logger {
	if l := current.Load(); l != nil {
		return *l
	}
	return log.Logger
}

func Tracef(format string, args ...any) {
	l := Logger()
	l.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Logger()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Logger()
	l.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	l := Logger()
	l.Error().Msgf(format, args...)
}
