package testlog

import (
	"testing"

	"github.com/danmuck/satlink/internal/logging"
	"github.com/rs/zerolog"
)

// Start configures test logging and returns a logger tagged with the test name.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := logging.New("test").With().Str("test", t.Name()).Logger()
	logger.Info().Msg("test start")
	return logger
}
