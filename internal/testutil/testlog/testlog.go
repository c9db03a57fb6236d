package testlog

import (
	"testing"

	"github.com/error2913/QQ-add-group-verification/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging once per process and marks the test start.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("testlog.Start")
}
