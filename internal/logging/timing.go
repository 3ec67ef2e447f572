package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// Timing logs the start of an operation at debug level and returns a func
// that logs its completion with the elapsed time.
//
//	done := logging.Timing(logger, "build property index")
//	defer done()
func Timing(logger zerolog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug().Str("operation", operation).Msg("starting")

	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("took", time.Since(start)).
			Msg("completed")
	}
}

// Rate returns items per second, guarding against a zero duration.
func Rate(items int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(items) / elapsed.Seconds()
}
