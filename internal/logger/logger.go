// Package logger configures the global zerolog logger for both binaries.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"medikiosk/config"
)

// Setup points the global logger at stdout, as JSON or as console output when
// cfg.Pretty is set, tagged with the service name. Unknown levels fall back to info.
func Setup(cfg config.LogConfig, service string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return setup(w, cfg.Level, service)
}

func setup(w io.Writer, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
	log.Logger = zl
	return zl
}
