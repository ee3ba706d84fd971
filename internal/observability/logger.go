package observability

import (
	"os"

	"github.com/danmuck/levin/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and installs an
// app-tagged logger as the zerolog global.
func InitLogger(app string) zerolog.Logger {
	cfg := logging.ConfigureRuntime()
	logger := logging.New(app, cfg, os.Stdout)
	log.Logger = logger
	return logger
}
