package observability

import (
	"github.com/rs/zerolog"

	logs "github.com/danmuck/universe/internal/logging"
)

// ComponentLogger returns the process logger tagged with app, for structured
// call sites such as the request logger.
func ComponentLogger(app string) zerolog.Logger {
	return logs.Logger().With().Str("app", app).Logger()
}
