package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide logger and returns it. With pretty
// enabled, output goes through a human-readable console writer; otherwise
// raw JSON lines are emitted for log shippers.
func InitLogger(app string, pretty bool) zerolog.Logger {
	var logger zerolog.Logger
	if pretty {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("app", app).Logger()
	}
	log.Logger = logger
	return logger
}
