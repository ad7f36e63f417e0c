package logging

import (
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Pretty switches to the human readable
// console writer, meant for development runs.
func Init(logLevel string, pretty bool) {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(out).
		With().
		Stack().
		Timestamp().Logger()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		stdlog.Panicf(`logging: failed to parse log level of %s: %v`, logLevel, err)
	}
	zerolog.SetGlobalLevel(level)
}
