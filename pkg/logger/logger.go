package logx

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/groupgpt/server/internal/core"
)

type LoggerOpts struct {
	Environment core.Environment
}

// Init configures the global logger. Production keeps zerolog's structured
// JSON output at info level; everything else gets a console writer with
// caller info at debug level.
func Init(opts ...LoggerOpts) {
	env := core.Development
	if len(opts) > 0 {
		env = opts[0].Environment
	}

	if env.IsProduction() {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
		return
	}

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).
		With().Timestamp().Caller().Logger().
		Level(zerolog.DebugLevel)
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}
