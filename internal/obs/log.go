package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	logger     zerolog.Logger
)

// Logger returns the shared structured logger used across the service.
// The first call configures it from SALUS_LOG_LEVEL (defaults to info).
func Logger() *zerolog.Logger {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		level := parseLevel(os.Getenv("SALUS_LOG_LEVEL"))
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	})
	return &logger
}

// With returns a child logger tagged with the given component name.
func With(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
